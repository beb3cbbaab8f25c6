package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenRequired      = errors.New("auth: token required")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrMisconfigured      = errors.New("auth: misconfigured")
)

// ErrWrongTokenType and ErrTokenRevoked match ErrTokenInvalid under errors.Is
// so callers that do not care about the distinction treat them alike.
var (
	ErrWrongTokenType = fmt.Errorf("%w: unexpected token type", ErrTokenInvalid)
	ErrTokenRevoked   = fmt.Errorf("%w: refresh token revoked", ErrTokenInvalid)
)
