package chat

import "errors"

// invalidRequestError marks a request rejected before touching the session.
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return "invalid request: " + e.msg }

func IsInvalidRequest(err error) bool {
	var e invalidRequestError
	return errors.As(err, &e)
}

// modelNotActiveError is returned when a request names a model other than
// the active one.
type modelNotActiveError struct{ requested, active string }

func (e modelNotActiveError) Error() string {
	return "model " + e.requested + " is not active (active: " + e.active + ")"
}

func IsModelNotActive(err error) bool {
	var e modelNotActiveError
	return errors.As(err, &e)
}
