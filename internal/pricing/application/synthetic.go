package application

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	pricing "market-optimizer/internal/pricing/domain"
)

// SyntheticSource generates plausible hourly prices for demos and as a
// fallback when the market API is unavailable.
type SyntheticSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticSource constructs a source. A nil rng is seeded from the clock.
func NewSyntheticSource(rng *rand.Rand) *SyntheticSource {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &SyntheticSource{rng: rng}
}

// FetchPrices returns 24 rows per day from start to end inclusive. A range
// that ends before it starts still yields one day.
func (s *SyntheticSource) FetchPrices(ctx context.Context, start, end time.Time) ([]pricing.PriceRecord, error) {
	_ = ctx
	first := pricing.DateOf(start).Time()
	days := int(pricing.DateOf(end).Time().Sub(first).Hours()/24) + 1
	if days <= 0 {
		days = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]pricing.PriceRecord, 0, days*24)
	for d := 0; d < days; d++ {
		date := pricing.DateOf(first.AddDate(0, 0, d))
		base := 5.0 + s.rng.Float64()*10.0
		for hour := 0; hour < 24; hour++ {
			noise := s.rng.Float64() - 0.5
			ct := math.Max(1.0, base*hourFactor(hour)+noise)
			rec, err := pricing.NewPriceRecord(date, hour, ct)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// hourFactor rises through the morning and falls off after noon.
func hourFactor(hour int) float64 {
	h := float64(hour)
	if hour < 12 {
		return 1.0 + 0.5*(0.5*(h-3)/9.0)
	}
	return 1.0 + 0.5*(0.5-0.5*(h-12)/12.0)
}
