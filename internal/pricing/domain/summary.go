package pricing

// PriceSummary aggregates a batch of hourly prices.
type PriceSummary struct {
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	Avg            float64 `json:"avg"`
	Count          int     `json:"count"`
	DateRangeStart string  `json:"date_range_start"`
	DateRangeEnd   string  `json:"date_range_end"`
}

// SummarizePrices computes min/max/avg of price_eur over the whole batch.
// Records must already be sorted; the date range is read from the first
// and last element.
func SummarizePrices(sorted []PriceRecord) (PriceSummary, error) {
	if len(sorted) == 0 {
		return PriceSummary{}, ErrEmptyBatch
	}
	out := PriceSummary{
		Min:            sorted[0].PriceEUR,
		Max:            sorted[0].PriceEUR,
		Count:          len(sorted),
		DateRangeStart: sorted[0].Date.Display(),
		DateRangeEnd:   sorted[len(sorted)-1].Date.Display(),
	}
	var sum float64
	for _, rec := range sorted {
		sum += rec.PriceEUR
		out.Min = min(out.Min, rec.PriceEUR)
		out.Max = max(out.Max, rec.PriceEUR)
	}
	out.Avg = sum / float64(len(sorted))
	return out, nil
}

// CycleSummary aggregates a batch of arbitrage cycles.
type CycleSummary struct {
	Count          int            `json:"count"`
	TotalProfit    float64        `json:"total_profit"`
	AvgProfit      float64        `json:"avg_profit"`
	MaxProfitCycle ArbitrageCycle `json:"max_profit_cycle"`
}

// SummarizeCycles sums gross profit (not profit after losses) and picks the
// first cycle with the greatest profit.
func SummarizeCycles(cycles []ArbitrageCycle) (CycleSummary, error) {
	if len(cycles) == 0 {
		return CycleSummary{}, ErrEmptyBatch
	}
	best := 0
	var total float64
	for i, c := range cycles {
		total += c.ProfitValue()
		if c.ProfitValue() > cycles[best].ProfitValue() {
			best = i
		}
	}
	return CycleSummary{
		Count:          len(cycles),
		TotalProfit:    total,
		AvgProfit:      total / float64(len(cycles)),
		MaxProfitCycle: cycles[best],
	}, nil
}
