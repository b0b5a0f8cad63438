// Package session is the Redis-backed session manager.
//
// # Layout
//
// Each session is a hash at {prefix}:s:{id}. Active sessions are indexed in a
// sorted set per identity and tenant ({prefix}:u:{tenant}:{identity}, scored by
// creation time), a set per identity ({prefix}:i:{identity}) and two global
// sorted sets scored by last activity ({prefix}:idle) and creation
// ({prefix}:created) that drive the sweeps.
//
// # Atomicity
//
// Create, Validate, Rotate, Transition and the sweeps are Lua scripts. A
// session leaves StateActive exactly once; the call that moves it reports the
// transition and every later call observes the terminal state. Ended records
// stay readable until their key expires (absolute timeout plus retention).
//
// Tokens are bound to a session through its nonce. Rotate swaps the nonce with
// a compare-and-swap, so a session has exactly one valid token pair.
//
// # What this package must NOT do
//
//   - Import goSentinel or jwt (no upward imports).
//   - Emit audit events. Callers audit the transitions they are told about.
package session
