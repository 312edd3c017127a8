package filter

import "errors"

var (
	// ErrInvalidExpr indicates a malformed expression tree.
	ErrInvalidExpr = errors.New("invalid filter expression")

	// ErrInvalidField indicates a field name that is not a plain identifier.
	ErrInvalidField = errors.New("invalid filter field")

	// ErrTypeMismatch indicates an ordering comparison between incompatible values.
	ErrTypeMismatch = errors.New("filter type mismatch")
)
