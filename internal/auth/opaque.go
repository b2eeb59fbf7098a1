// Package auth adapts the external auth collaborator. The server treats
// tokens and user ids as opaque values; this default adapter accepts the
// token itself as the user id, matching the hosted-auth deployment where
// the gateway has already verified the session.
package auth

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned for tokens the collaborator rejects.
var ErrInvalidToken = errors.New("invalid token")

// OpaqueAuthenticator resolves a pre-verified token to a user id.
type OpaqueAuthenticator struct{}

// New creates a new OpaqueAuthenticator.
func New() *OpaqueAuthenticator {
	return &OpaqueAuthenticator{}
}

// UserID returns the token as the stable user id.
func (a *OpaqueAuthenticator) UserID(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
