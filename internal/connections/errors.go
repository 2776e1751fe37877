package connections

import "errors"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("connection not found")
	ErrNotConfigured = errors.New("connection registry not configured")
	ErrBadKey        = errors.New("encryption key must be 32 bytes, raw or base64")
)
