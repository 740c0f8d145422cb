package pricing

// Tier is the ordinal quality of a price or profit.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Price thresholds in EUR/kWh.
const (
	ChargeHighBelow      = 0.10
	ChargeMediumBelow    = 0.15
	DischargeHighAbove   = 0.20
	DischargeMediumAbove = 0.15
)

// Profit thresholds in EUR.
const (
	ProfitHighFrom   = 10.0
	ProfitMediumFrom = 5.0
)

// ClassifyPrice tiers a EUR/kWh price. Lower is better when charging,
// higher is better when discharging. Input must be finite.
func ClassifyPrice(price float64, isCharge bool) Tier {
	if isCharge {
		switch {
		case price < ChargeHighBelow:
			return TierHigh
		case price < ChargeMediumBelow:
			return TierMedium
		default:
			return TierLow
		}
	}
	switch {
	case price > DischargeHighAbove:
		return TierHigh
	case price > DischargeMediumAbove:
		return TierMedium
	default:
		return TierLow
	}
}

// ClassifyProfit tiers a profit in EUR. Input must be finite.
func ClassifyProfit(profit float64) Tier {
	switch {
	case profit >= ProfitHighFrom:
		return TierHigh
	case profit >= ProfitMediumFrom:
		return TierMedium
	default:
		return TierLow
	}
}

// CSSClass maps the tier to the stylesheet class used by the frontend.
func (t Tier) CSSClass() string {
	switch t {
	case TierHigh:
		return "high-profit"
	case TierMedium:
		return "medium-profit"
	case TierLow:
		return "low-profit"
	default:
		return ""
	}
}
