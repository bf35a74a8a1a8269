// Package apperr is the error taxonomy shared by the engine. Every error that
// crosses a package boundary wraps exactly one of these sentinels.
package apperr

import "errors"

var (
	// ErrNetwork is transient and retryable.
	ErrNetwork = errors.New("network error")
	// ErrInvalidTransition is terminal for the attempt and never retried.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidation marks a malformed payload. Terminal.
	ErrValidation = errors.New("validation error")
	// ErrConflict means the server state diverged from what the client
	// assumed. Callers reconcile instead of retrying.
	ErrConflict = errors.New("conflict")
)

// Retryable reports whether err may succeed if the same request is sent again.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Kind returns a short label for the taxonomy class of err, or "unknown".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "unknown"
}
