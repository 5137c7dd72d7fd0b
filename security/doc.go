// Package security provides the security primitives of the authorization
// server core: PKCE validation with verifier strength heuristics, the batched
// security audit logger, per-identifier in-process rate limiting, token
// encryption at rest, request ID propagation, client IP extraction, and
// constant-time/clock-skew helpers.
//
// Everything here is an injected component; nothing is a process-wide
// singleton, so tests construct isolated instances per case.
package security
