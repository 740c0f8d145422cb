package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"time"

	"golang.org/x/sync/singleflight"

	"market-optimizer/internal/observability/metrics"
	pricing "market-optimizer/internal/pricing/domain"
)

const sharedFetchTimeout = 2 * time.Minute

// Data source labels reported to callers.
const (
	SourceLive      = "netztransparenz_api"
	SourceStore     = "price_store"
	SourceSynthetic = "synthetic"
)

// Fallback reasons.
const (
	ReasonUserRequest   = "user_request"
	ReasonEmptyResponse = "empty_response"
	ReasonAuthToken     = "auth_token_error"
	ReasonNotFound      = "api_not_found"
	ReasonAuth          = "api_auth_error"
	ReasonTimeout       = "api_timeout"
	ReasonConnect       = "api_connect_error"
	ReasonAPI           = "api_error"
)

var fallbackMessages = map[string]string{
	ReasonUserRequest:   "Test data is used, as requested by the user",
	ReasonEmptyResponse: "API did not return data for the specified period. Test data is used.",
	ReasonAuthToken:     "Error receiving an authorization token. Test data is used.",
	ReasonNotFound:      "API is not available at the specified URL. Test data is used.",
	ReasonAuth:          "Authentication error when accessing the API. Test data is used.",
	ReasonTimeout:       "The time to wait for a response from the API has been exceeded. Test data is used.",
	ReasonConnect:       "Failed to connect to API. Test data is being used.",
	ReasonAPI:           "Error when accessing the API. Test data is used.",
}

// PriceSource returns hourly prices for an inclusive day range.
type PriceSource interface {
	FetchPrices(ctx context.Context, start, end time.Time) ([]pricing.PriceRecord, error)
}

// PriceStore caches fetched prices by day.
type PriceStore interface {
	// LoadRange returns the stored records and whether every day in the
	// range is present.
	LoadRange(ctx context.Context, start, end time.Time) ([]pricing.PriceRecord, bool, error)
	SaveRecords(ctx context.Context, records []pricing.PriceRecord) error
}

// MarketData is a fetched batch and where it came from.
type MarketData struct {
	Records    []pricing.PriceRecord
	IsTestData bool
	Source     string
	Reason     string
	Message    string
	Error      string
}

// OptimizationResult is the optimizer output for a range.
type OptimizationResult struct {
	Cycles     []pricing.ArbitrageCycle
	IsTestData bool
	Message    string
}

// MarketDataService selects between live, stored and synthetic prices and
// runs the optimizer on top.
type MarketDataService struct {
	live      PriceSource
	synthetic PriceSource
	store     PriceStore
	optimizer *Optimizer
	settings  Settings
	logger    *log.Logger
	flights   singleflight.Group
}

// ServiceOption configures the service.
type ServiceOption func(*MarketDataService)

// WithLiveSource sets the upstream market API.
func WithLiveSource(source PriceSource) ServiceOption {
	return func(s *MarketDataService) {
		if source != nil {
			s.live = source
		}
	}
}

// WithStore enables the price store.
func WithStore(store PriceStore) ServiceOption {
	return func(s *MarketDataService) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *MarketDataService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewMarketDataService constructs the service.
func NewMarketDataService(synthetic PriceSource, settings Settings, opts ...ServiceOption) (*MarketDataService, error) {
	if synthetic == nil {
		return nil, errors.New("market data service: nil synthetic source")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	optimizer, err := NewOptimizer(settings.CapacityKWh, settings.Efficiency)
	if err != nil {
		return nil, err
	}
	s := &MarketDataService{
		synthetic: synthetic,
		optimizer: optimizer,
		settings:  settings,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Settings returns the active settings.
func (s *MarketDataService) Settings() Settings { return s.settings }

// Optimizer returns the configured optimizer.
func (s *MarketDataService) Optimizer() *Optimizer { return s.optimizer }

// MarketRange fills missing bounds: no start means the lookback window
// ending today at midnight; no end means start plus the lookback window.
func (s *MarketDataService) MarketRange(now time.Time, start, end *time.Time) (time.Time, time.Time) {
	span := s.settings.MarketLookbackDays
	if start == nil {
		to := pricing.DateOf(now).Time()
		return to.AddDate(0, 0, -span), to
	}
	if end == nil {
		return *start, start.AddDate(0, 0, span)
	}
	return *start, *end
}

// OptimizeRange fills missing bounds: no start means the previous calendar
// month; no end means start plus the optimize span.
func (s *MarketDataService) OptimizeRange(now time.Time, start, end *time.Time) (time.Time, time.Time) {
	if start == nil {
		firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		to := firstOfMonth.AddDate(0, 0, -1)
		return time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC), to
	}
	if end == nil {
		return *start, start.AddDate(0, 0, s.settings.OptimizeSpanDays)
	}
	return *start, *end
}

// GetMarketData returns prices for [start, end]. useTestData overrides the
// configured default when set. Upstream failures fall back to synthetic
// data and are reported in the result, not as an error.
func (s *MarketDataService) GetMarketData(ctx context.Context, start, end time.Time, useTestData *bool) (MarketData, error) {
	if end.Before(start) {
		return MarketData{}, pricing.ErrInvalidRange
	}
	useTest := s.settings.UseTestDataByDefault
	if useTestData != nil {
		useTest = *useTestData
	}
	if useTest {
		s.logger.Printf("market data: synthetic on request from=%s to=%s", start.Format("2006-01-02"), end.Format("2006-01-02"))
		return s.fallback(ctx, start, end, ReasonUserRequest, nil)
	}

	if s.store != nil {
		records, complete, err := s.store.LoadRange(ctx, start, end)
		switch {
		case err != nil:
			s.logger.Printf("market data: store load error: %v", err)
		case complete && len(records) > 0:
			metrics.ObserveMarketFetch(SourceStore, metrics.ResultSuccess, 0)
			return MarketData{
				Records: records,
				Source:  SourceStore,
				Message: "Data loaded from the price store",
			}, nil
		}
	}

	records, err := s.fetchLive(ctx, start, end)
	if err != nil {
		reason := ClassifySourceError(err)
		s.logger.Printf("market data: api error reason=%s: %v", reason, err)
		return s.fallback(ctx, start, end, reason, err)
	}
	if len(records) == 0 {
		s.logger.Printf("market data: api returned no rows from=%s to=%s", start.Format("2006-01-02"), end.Format("2006-01-02"))
		return s.fallback(ctx, start, end, ReasonEmptyResponse, nil)
	}

	if s.store != nil {
		if err := s.store.SaveRecords(ctx, records); err != nil {
			s.logger.Printf("market data: store save error: %v", err)
		}
	}
	return MarketData{
		Records: records,
		Source:  SourceLive,
		Message: "Data received from the Netztransparenz API",
	}, nil
}

// Optimize fetches prices for the range and returns qualifying cycles.
func (s *MarketDataService) Optimize(ctx context.Context, start, end time.Time, threshold float64, useTestData *bool) (OptimizationResult, error) {
	data, err := s.GetMarketData(ctx, start, end, useTestData)
	if err != nil {
		return OptimizationResult{}, err
	}
	if len(data.Records) == 0 {
		return OptimizationResult{}, pricing.ErrNoMarketData
	}
	cycles := s.optimizer.Optimize(data.Records, threshold)
	metrics.AddCyclesFound(len(cycles))
	s.logger.Printf("optimize: records=%d threshold=%.2f cycles=%d", len(data.Records), threshold, len(cycles))
	return OptimizationResult{
		Cycles:     cycles,
		IsTestData: data.IsTestData,
		Message:    data.Message,
	}, nil
}

// OptimizeRecords runs the optimizer over caller-supplied records.
func (s *MarketDataService) OptimizeRecords(records []pricing.PriceRecord, threshold float64) []pricing.ArbitrageCycle {
	cycles := s.optimizer.Optimize(records, threshold)
	metrics.AddCyclesFound(len(cycles))
	return cycles
}

// Prefetch pulls live prices for [start, end] into the store. It does not
// fall back to synthetic data.
func (s *MarketDataService) Prefetch(ctx context.Context, start, end time.Time) (int, error) {
	if s.store == nil {
		return 0, errors.New("market data service: no store configured")
	}
	records, err := s.fetchLive(ctx, start, end)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := s.store.SaveRecords(ctx, records); err != nil {
		return 0, fmt.Errorf("prefetch save: %w", err)
	}
	return len(records), nil
}

// fetchLive coalesces concurrent requests for the same range. The shared
// fetch is detached from any single caller's cancellation and bounded by
// sharedFetchTimeout; each caller still stops waiting when its own ctx ends.
func (s *MarketDataService) fetchLive(ctx context.Context, start, end time.Time) ([]pricing.PriceRecord, error) {
	if s.live == nil {
		return nil, pricing.ErrSourceUnavailable
	}
	key := start.Format("2006-01-02") + "|" + end.Format("2006-01-02")
	began := time.Now()
	ch := s.flights.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return s.live.FetchPrices(fetchCtx, start, end)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		metrics.ObserveMarketFetch(SourceLive, metrics.ResultError, time.Since(began))
		return nil, res.Err
	}
	records := finiteRecords(res.Val.([]pricing.PriceRecord))
	if dropped := len(res.Val.([]pricing.PriceRecord)) - len(records); dropped > 0 {
		s.logger.Printf("market data: dropped %d non-finite rows", dropped)
	}
	result := metrics.ResultSuccess
	if len(records) == 0 {
		result = metrics.ResultEmpty
	}
	metrics.ObserveMarketFetch(SourceLive, result, time.Since(began))
	return records, nil
}

func finiteRecords(records []pricing.PriceRecord) []pricing.PriceRecord {
	out := make([]pricing.PriceRecord, 0, len(records))
	for _, r := range records {
		if math.IsNaN(r.PriceEUR) || math.IsInf(r.PriceEUR, 0) || math.IsNaN(r.PriceCtKWh) || math.IsInf(r.PriceCtKWh, 0) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *MarketDataService) fallback(ctx context.Context, start, end time.Time, reason string, cause error) (MarketData, error) {
	records, err := s.synthetic.FetchPrices(ctx, start, end)
	if err != nil {
		return MarketData{}, fmt.Errorf("synthetic data: %w", err)
	}
	metrics.IncMarketFallback(reason)
	out := MarketData{
		Records:    records,
		IsTestData: true,
		Source:     SourceSynthetic,
		Reason:     reason,
		Message:    FallbackMessage(reason),
	}
	if cause != nil {
		out.Error = cause.Error()
	}
	return out, nil
}

// FallbackMessage returns the user-facing text for a fallback reason.
func FallbackMessage(reason string) string {
	if msg, ok := fallbackMessages[reason]; ok {
		return msg
	}
	return fallbackMessages[ReasonAPI]
}

// ClassifySourceError maps an upstream failure to a fallback reason.
func ClassifySourceError(err error) string {
	var statusErr *pricing.SourceStatusError
	var netErr net.Error
	var opErr *net.OpError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, pricing.ErrSourceToken):
		return ReasonAuthToken
	case errors.As(err, &statusErr):
		switch statusErr.StatusCode {
		case 404:
			return ReasonNotFound
		case 401, 403:
			return ReasonAuth
		}
		return ReasonAPI
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ReasonTimeout
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return ReasonConnect
	}
	return ReasonAPI
}
