package seocontrol

import "errors"

// Errors returned by the store and the admin service.
var (
	ErrUnauthorized = errors.New("insufficient permissions")
	ErrNotFound     = errors.New("not found")
	ErrNoOverride   = errors.New("no override stored")
	ErrStorage      = errors.New("storage unavailable")
	ErrInvalidInput = errors.New("invalid input")
)
