package domain

import (
	"errors"
	"fmt"
)

// Structural failures. Never retried; they fail immediately and are logged
// with identifying context.
var (
	// ErrToolNotAvailable is returned by the registry for an unknown or
	// currently-ineligible tool name. No side effect is performed.
	ErrToolNotAvailable = errors.New("tool not available")

	// ErrUnknownChannel is returned for a send to an unregistered channel
	// name, before any network call.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrNoChannelAvailable means every configured adapter refused delivery.
	ErrNoChannelAvailable = errors.New("no channel available")

	// ErrMaxRoundsExceeded means the tool loop hit its round cap without a
	// final answer; the pipeline returns a best-effort fallback.
	ErrMaxRoundsExceeded = errors.New("max tool rounds exceeded")
)

// ModelErrorKind classifies model-capability failures.
type ModelErrorKind string

const (
	ModelRateLimited    ModelErrorKind = "rate_limited"
	ModelTimeout        ModelErrorKind = "timeout"
	ModelUnavailable    ModelErrorKind = "unavailable"
	ModelContextTooLong ModelErrorKind = "context_too_long"
	ModelMalformed      ModelErrorKind = "malformed"
)

// ModelError wraps a model-capability failure with its kind so callers can
// decide between retry, truncation, and giving up.
type ModelError struct {
	Kind ModelErrorKind
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model %s: %v", e.Kind, e.Err)
	}
	return "model " + string(e.Kind)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Context-length and
// malformed-output errors are not solved by retrying as-is.
func (e *ModelError) Retryable() bool {
	switch e.Kind {
	case ModelRateLimited, ModelTimeout, ModelUnavailable:
		return true
	}
	return false
}

// IsContextTooLong reports whether err signals the model's context budget
// was exceeded, which the pipeline recovers from by truncation.
func IsContextTooLong(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && me.Kind == ModelContextTooLong
}

// IsRetryableModelError reports whether err is a transient model failure.
func IsRetryableModelError(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && me.Retryable()
}
