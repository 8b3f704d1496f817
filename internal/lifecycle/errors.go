package lifecycle

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyTerminal   = errors.New("order already terminal")
	ErrBusy              = errors.New("order is busy, retry later")
	ErrSideEffect        = errors.New("side effect failed")
	// ErrConflict means the stored version moved under us. The engine reports it as ErrBusy.
	ErrConflict = errors.New("version conflict")
)
