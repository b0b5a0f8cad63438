// Package internal contains helpers private to goSentinel: random session ids
// and token-pair nonces.
//
// # Sub-packages
//
//   - audit: event dispatch to sinks and the durable store sink
//   - limiters: Redis fixed-window counters for MFA attempts
//   - bootstrap: environment loading and engine wiring for the binaries
//   - sentineltest: miniredis-backed engines for transport tests
package internal
