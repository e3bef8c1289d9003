package js

import "errors"

var (
	// ErrFunctionMissing is returned when a requested export does not exist.
	ErrFunctionMissing = errors.New("strategy function missing")
	// ErrModuleNotFound reports missing strategy modules.
	ErrModuleNotFound = errors.New("strategy module not found")
)
