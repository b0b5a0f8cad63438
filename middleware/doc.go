// Package middleware adapts goSentinel.Engine verification to net/http.
//
// # Middleware
//
//   - [RequestMeta] records client IP, user agent, method and path for audit
//     events and risk scoring.
//   - [Guard] verifies a bearer access token and attaches the principal.
//   - [RequirePortal] restricts a route to principals on given portals.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. All decisions are
// delegated to Engine.Verify; the middleware never parses tokens or talks to
// Redis itself.
package middleware
