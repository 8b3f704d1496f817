package core

import "errors"

var (
	ErrFieldIsEmpty   = errors.New("field is empty")
	ErrInvalidRequest = errors.New("invalid request")
	ErrStoreMismatch  = errors.New("entity belongs to another store")
)
