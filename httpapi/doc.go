// Package httpapi exposes a goSentinel.Engine over HTTP with go-chi.
//
// Routes:
//
//	POST /login          public, token pair and session
//	POST /refresh        public, rotated pair
//	POST /logout         public, idempotent
//	GET  /whoami         bearer
//	POST /mfa/setup      bearer
//	POST /mfa/enable     bearer
//	POST /mfa/verify     bearer
//	POST /mfa/disable    bearer
//	GET  /sessions       bearer
//	GET  /healthz        public
//
// Failures render {"error", "message", "lockedUntil"?, "mfaMethod"?} with the
// status from goSentinel.HTTPStatus. Infra causes are logged, never returned.
package httpapi
