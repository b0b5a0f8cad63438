// Package redisstore keeps identities, tenants and the audit log in Redis.
//
// Identities are hashes under {prefix}:id:{id} with an email index and a set
// of unused backup-code digests. Every security-state transition that reads
// before it writes (failed attempts, lock expiry, bulk unlock) runs as a Lua
// script. Locked identities are tracked in a sorted set scored by the unlock
// time so UnlockExpired never scans the keyspace.
//
// Audit events are stored as JSON with two sorted-set indexes: a global one
// by time for Purge, and one per identity and event type for CountSince.
package redisstore
