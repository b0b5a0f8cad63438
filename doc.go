// Package goSentinel is the authentication, session and risk-scoring engine of a
// multi-tenant backend. It issues short-lived JWT access tokens and rotating
// refresh tokens bound to Redis sessions, enforces the role/portal/tenant
// matrix, locks accounts after repeated failures, and audits every
// security-relevant decision.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goSentinel is the public surface. It exposes [Engine], [Builder], [Config],
// the store contracts ([CredentialStore], [TenantDirectory], [AuditStore]) and
// value types. Session encoding, Lua scripts, audit dispatch and the MFA
// attempt limiter live in subpackages or under internal/.
//
// Concrete stores live in store/redisstore and store/pgstore. Both import this
// package, so tests that need a real store use the external test package.
//
// # What this package must NOT do
//
//   - Run background schedules. Idle and absolute expiry are enforced lazily on
//     every validation; [Engine.SweepIdle], [Engine.SweepExpired],
//     [Engine.PurgeAuditLog] and [Engine.UnlockExpiredAccounts] are hooks for an
//     external scheduler such as cmd/sentinel-maint.
//   - Return raw store errors to callers. Transport failures surface as
//     [ErrStoreUnavailable] and the cause is logged.
//   - Let an audit or notification failure change an authentication result.
//
// # Failure semantics
//
// Redis unavailability fails closed: Login, Verify and Refresh return
// [ErrStoreUnavailable] after one retry with backoff.
package goSentinel
