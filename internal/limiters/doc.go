// Package limiters provides Redis-backed attempt limiters.
//
// # Limiters
//
//   - [MFALimiter]: per-identity streak of wrong TOTP or backup codes.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # Architecture boundaries
//
// Each limiter owns its own Redis key namespace under the configured prefix
// and its own error types. Thresholds come from Config structs supplied at
// construction time.
//
// # What this package must NOT do
//
//   - Import goSentinel or any sibling internal package.
//   - Make policy decisions beyond counting; the engine decides consequences.
package limiters
