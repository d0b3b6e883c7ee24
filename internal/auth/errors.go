package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: already exists")
	ErrValidation         = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrSignupDisabled     = errors.New("auth: signup disabled")
	ErrConfiguration      = errors.New("auth: missing configuration")

	ErrSessionRevoked = errors.New("auth: session already revoked")

	ErrTokenNotFound = errors.New("auth: refresh token not found")
	ErrTokenExpired  = errors.New("auth: refresh token expired")
	ErrTokenRevoked  = errors.New("auth: refresh token revoked")

	ErrInvalidToken = errors.New("auth: invalid access token")
)
