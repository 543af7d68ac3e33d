// Package auth implements the optional bearer-token guard for the
// management API. Tokens are HS256 JWTs signed with the shared secret
// from auth.secret; an empty secret disables the guard entirely.
package auth

import "errors"

var (
	// ErrMissingToken means the request carried no bearer token.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken means the token is malformed, carries a bad
	// signature, or uses a signing method other than HS256.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken means the token's exp claim has passed.
	ErrExpiredToken = errors.New("token has expired")

	// ErrInvalidIssuer means the iss claim does not match.
	ErrInvalidIssuer = errors.New("invalid token issuer")
)
