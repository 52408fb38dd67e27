package usecase

import "errors"

// Error kinds surfaced by the inference pipeline. ErrModelUnavailable and
// ErrPersistence are server-side conditions a caller may retry later;
// ErrMissingInput and ErrInvalidImage are caller errors that need a fixed
// request; ErrInferenceFailure means the scorer raised mid-request.
var (
	ErrModelUnavailable = errors.New("diagnostic model is not loaded")
	ErrMissingInput     = errors.New("no scan image supplied")
	ErrInvalidImage     = errors.New("scan image is not a supported encoding")
	ErrInferenceFailure = errors.New("model scoring failed")
	ErrPersistence      = errors.New("record store operation failed")
)

// Account flow errors.
var (
	ErrUserExists         = errors.New("username is already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
)
