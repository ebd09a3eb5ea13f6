package domain

import "errors"

// Configuration errors. They signal a caller contract violation and are never retried.
var (
	ErrInvalidIdentifier = errors.New("permission: invalid identifier")
	ErrInvalidLevel      = errors.New("permission: invalid access level")
	ErrInvalidCondition  = errors.New("permission: invalid condition")
	ErrInvalidGrant      = errors.New("permission: invalid grant")
)
