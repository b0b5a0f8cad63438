// Package mfa implements TOTP (RFC 6238) secrets and single-use backup codes.
//
// Secrets are 32 random bytes in unpadded base32. Backup codes are handed to
// the user once and only their SHA-256 digests are stored, so the store can
// consume a code atomically by removing its digest.
package mfa
