// Package valkey provides a Valkey-backed implementation of all storage
// interfaces for multi-instance deployments.
//
// All one-time artifacts (authorization codes, transient state, refresh
// tokens under rotation) are consumed with GETDEL, so the fetch and the
// delete happen in a single server-side step and concurrent consumers cannot
// both succeed. The sliding-window rate limit counter uses a small Lua script
// so the increment and the TTL assignment on first increment are one atomic
// operation.
//
// Every key carries a TTL; nothing in this backend lives forever. Infra
// failures are wrapped in storage.ErrStoreUnavailable so the server layer can
// apply its fail-open/fail-closed policy per operation.
//
// Token and authorization code payloads can optionally be encrypted at rest
// with an AES-256-GCM encryptor; see SetEncryptor.
package valkey
