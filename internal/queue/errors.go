package queue

import "errors"

var (
	// ErrJobNotFound is returned when a job id is unknown to the store
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownQueue is returned when no policy is registered for a queue name
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrInvalidState is returned when an operator action does not fit the job's status
	ErrInvalidState = errors.New("invalid job state for operation")

	// ErrPermanent marks failures that retrying can never fix
	ErrPermanent = errors.New("permanent failure")
)

// PermanentError wraps an error that must move the job straight to failed
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPermanent) match any wrapped PermanentError
func (e *PermanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Permanent wraps err so the engine skips the remaining retry budget
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is permanent
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
