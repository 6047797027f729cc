package patientflow

import "errors"

// Error kinds returned by the flow engine. Operations wrap them with context;
// match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("validation failed")
)
