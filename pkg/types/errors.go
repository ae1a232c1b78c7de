package types

import "errors"

var (
	ErrMissingMessageType = errors.New("message has no type field")
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric plus underscore/hyphen")
	ErrInvalidRole        = errors.New("role must be teacher or student")
	ErrInvalidContentType = errors.New("unknown content type")
	ErrLinkRequired       = errors.New("link content requires a link")
)
