// Package storage defines the interfaces and record types for the
// authorization server's short-lived state: authorization codes, access and
// refresh tokens, rate-limit counters, and cached application metadata.
//
// Two families of backends exist:
//
//   - storage/memory: an in-memory implementation used in tests, development,
//     and single-instance deployments.
//   - storage/valkey: a Valkey/Redis-backed implementation for production,
//     using server-side atomics (GETDEL, Lua) for the consume-once and
//     counter operations that must be race-free.
//
// The package also defines the Repository contract for the durable relational
// store that owns application records long-term. The cache is an accelerator
// for application metadata; it is the sole home of one-time artifacts (codes,
// transient state) whose short TTLs make durable storage unnecessary.
package storage
