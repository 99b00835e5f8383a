package auth

import "errors"

// Sentinel errors for the auth service; the HTTP layer maps them to status codes.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired, please log in again")
	ErrTokenRevoked       = errors.New("token has been revoked")
)
