package booking

import (
	"context"
	"errors"
)

var (
	ErrInvalidDate         = errors.New("invalid date")
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrSlotConflict        = errors.New("slot conflict")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrDependencyUnavailable marks store or collaborator failures. Callers may retry.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	ErrNotFound            = errors.New("not found")
	ErrUnknownService      = errors.New("unknown service")
	ErrInvalidService      = errors.New("invalid service")
	ErrInvalidInterval     = errors.New("invalid interval")
	ErrOutsideAvailability = errors.New("outside provider availability")
	ErrInvalidWindow       = errors.New("invalid availability window")
	ErrInvalidRequest      = errors.New("invalid request")
)

var domainErrors = []error{
	ErrInvalidDate,
	ErrUnknownProvider,
	ErrSlotConflict,
	ErrInvalidTransition,
	ErrConstraintViolation,
	ErrDependencyUnavailable,
	ErrNotFound,
	ErrUnknownService,
	ErrInvalidService,
	ErrInvalidInterval,
	ErrOutsideAvailability,
	ErrInvalidWindow,
	ErrInvalidRequest,
}

// DependencyError wraps an infrastructure failure. It matches both ErrDependencyUnavailable
// and the underlying cause under errors.Is.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return e.Op + ": " + ErrDependencyUnavailable.Error() + ": " + e.Err.Error()
}

func (e *DependencyError) Unwrap() []error {
	return []error{ErrDependencyUnavailable, e.Err}
}

// classify leaves domain errors and context cancellation alone and wraps the rest.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &DependencyError{Op: op, Err: err}
}

// asConflict turns a store constraint signal into the conflict callers are told to retry on.
func asConflict(err error) error {
	if errors.Is(err, ErrConstraintViolation) {
		return errors.Join(ErrSlotConflict, err)
	}
	return err
}
