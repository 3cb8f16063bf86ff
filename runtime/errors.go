package runtime

import "errors"

var (
	// ErrNotReady is returned when a batch payload is requested before the
	// remote side reports the batch finished.
	ErrNotReady = errors.New("batch not ready")

	// ErrInvalidRange is returned for a time range whose start is not
	// before its stop.
	ErrInvalidRange = errors.New("invalid time range")
)
