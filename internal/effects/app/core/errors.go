package core

import "errors"

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInProgress        = errors.New("effect is being executed by another worker")
	ErrUnknownEffect     = errors.New("unknown effect kind")
	ErrStockRestored     = errors.New("order stock already restored")
)
