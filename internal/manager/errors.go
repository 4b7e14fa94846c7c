package manager

import "errors"

// tooBusyError signals queue overflow for 429 mapping.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string { return "too busy: " + e.modelID }

func ErrTooBusy(id string) error { return tooBusyError{modelID: id} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// modelNotFoundError is returned when a requested id is not a known model.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates an unknown model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// modelUnavailableError is returned for a known model whose weights were
// missing at startup.
type modelUnavailableError struct{ id string }

func (e modelUnavailableError) Error() string { return "model unavailable: " + e.id }

func ErrModelUnavailable(id string) error { return modelUnavailableError{id: id} }

func IsModelUnavailable(err error) bool {
	var e modelUnavailableError
	return errors.As(err, &e)
}

// noActiveModelError is returned when a request needs the session but none
// is installed.
type noActiveModelError struct{}

func (noActiveModelError) Error() string { return "no active model" }

var ErrNoActiveModel error = noActiveModelError{}

func IsNoActiveModel(err error) bool {
	var e noActiveModelError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals that the inference runtime is missing
// from this build, so the HTTP layer can return 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

var errClosed = errors.New("manager closed")
