package schedule

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrSlotsFull         = errors.New("slots full")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrMalformedSchedule = errors.New("malformed schedule")

	// ErrDeliveryFailure marks a failed send to a single sink. It never leaves the dispatcher.
	ErrDeliveryFailure = errors.New("delivery failure")

	// ErrStoreUnavailable is returned when the store cannot serve the operation.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsValidation reports whether err is a caller mistake detected before any mutation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrMalformedSchedule) ||
		errors.Is(err, ErrSlotsFull) ||
		errors.Is(err, ErrAlreadyClosed)
}
