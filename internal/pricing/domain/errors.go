package pricing

import "errors"

var (
	// ErrEmptyBatch is returned when an aggregate is requested over no input.
	ErrEmptyBatch = errors.New("pricing: empty batch")
	// ErrInvalidHour is returned when an hour is outside 0..23.
	ErrInvalidHour = errors.New("pricing: invalid hour")
	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = errors.New("pricing: invalid date range")
)
