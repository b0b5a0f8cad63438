// Package password hashes and verifies passwords with argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash after a successful login. [Hasher.VerifyDummy] lets the
// caller spend the same time on unknown accounts as on wrong passwords.
package password
