// Package jwt issues and verifies the access and refresh tokens of a session.
//
// Each token kind has its own signing key, and a token only verifies as the kind
// it was issued as. Parse failures are reduced to a small set of sentinel errors
// ([ErrMalformed], [ErrSignatureInvalid], [ErrExpired], [ErrWrongKind]) so callers
// can map them to stable codes without inspecting library errors.
package jwt
