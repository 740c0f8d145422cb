package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceToken is returned when the market API token cannot be obtained.
	ErrSourceToken = errors.New("pricing: failed to obtain authorization token")
	// ErrSourceUnavailable is returned when no live source is configured.
	ErrSourceUnavailable = errors.New("pricing: market source unavailable")
	// ErrNoMarketData is returned when no records exist for a range.
	ErrNoMarketData = errors.New("pricing: no market data for the specified period")
)

// SourceStatusError reports a non-200 answer from the market API.
type SourceStatusError struct {
	StatusCode int
	Body       string
}

func (e *SourceStatusError) Error() string {
	return fmt.Sprintf("pricing: market api returned %d: %s", e.StatusCode, e.Body)
}
