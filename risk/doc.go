// Package risk computes the bounded heuristic risk score attached to logins.
//
// The score only drives flagging and audit; it never allows or denies a
// request on its own.
package risk
