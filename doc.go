// Package oauth is the embeddable core of an OAuth 2.0 authorization
// server: application registry, authorization-code grant with PKCE,
// refresh rotation, revocation, introspection, sliding-window rate
// limiting, and a batched security audit trail.
//
// The package owns no routes. The embedding application wires the
// server operations to its own HTTP surface; the middleware in this
// package covers the cross-cutting request path (bearer resolution,
// scope enforcement, per-client throttling, security headers).
//
// Construction follows the storage-first shape:
//
//	store := memory.New()
//	repo := memory.NewRepository()
//	audit := security.NewAuditLogger(sink, security.AuditConfig{})
//	srv, err := server.New(store, repo, audit, nil, server.DefaultConfig())
//
// Swap memory for the valkey package in production; the two are
// behaviorally interchangeable behind storage.Store.
package oauth
