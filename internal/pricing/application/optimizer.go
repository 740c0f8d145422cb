package application

import (
	"errors"
	"slices"

	pricing "market-optimizer/internal/pricing/domain"
)

const (
	defaultCapacityKWh = 100.0
	defaultEfficiency  = 0.85
)

// DailyCycle is the best single charge/discharge pair within one day.
type DailyCycle struct {
	ChargeHour     int
	DischargeHour  int
	ChargePrice    float64
	DischargePrice float64
	Profit         float64
}

// Optimizer finds one charge/discharge cycle per day for a battery of a
// fixed capacity.
type Optimizer struct {
	capacityKWh float64
	efficiency  float64
}

// NewOptimizer constructs an optimizer. Zero values fall back to defaults.
func NewOptimizer(capacityKWh, efficiency float64) (*Optimizer, error) {
	if capacityKWh == 0 {
		capacityKWh = defaultCapacityKWh
	}
	if efficiency == 0 {
		efficiency = defaultEfficiency
	}
	if capacityKWh < 0 {
		return nil, errors.New("optimizer: negative capacity")
	}
	if efficiency < 0 || efficiency > 1 {
		return nil, errors.New("optimizer: efficiency out of range")
	}
	return &Optimizer{capacityKWh: capacityKWh, efficiency: efficiency}, nil
}

// DailyMinMaxCycle charges at the day's lowest price and discharges at its
// highest, provided the low comes first and the profit beats threshold.
// Ties keep the earliest hour.
func (o *Optimizer) DailyMinMaxCycle(day []pricing.PriceRecord, threshold float64) (DailyCycle, bool) {
	if len(day) == 0 {
		return DailyCycle{}, false
	}
	byHour := slices.Clone(day)
	slices.SortStableFunc(byHour, func(a, b pricing.PriceRecord) int { return a.Hour - b.Hour })

	lo, hi := byHour[0], byHour[0]
	for _, r := range byHour[1:] {
		if r.PriceEUR < lo.PriceEUR {
			lo = r
		}
		if r.PriceEUR > hi.PriceEUR {
			hi = r
		}
	}
	if lo.Hour >= hi.Hour {
		return DailyCycle{}, false
	}
	profit := (hi.PriceEUR - lo.PriceEUR) * o.capacityKWh
	if profit <= threshold {
		return DailyCycle{}, false
	}
	return DailyCycle{
		ChargeHour:     lo.Hour,
		DischargeHour:  hi.Hour,
		ChargePrice:    lo.PriceEUR,
		DischargePrice: hi.PriceEUR,
		Profit:         profit,
	}, true
}

// Optimize groups records by day and returns the qualifying cycles in day
// order, numbered from 1.
func (o *Optimizer) Optimize(records []pricing.PriceRecord, threshold float64) []pricing.ArbitrageCycle {
	groups := pricing.GroupByDay(pricing.SortRecords(records))
	cycles := make([]pricing.ArbitrageCycle, 0, len(groups))
	for _, g := range groups {
		daily, ok := o.DailyMinMaxCycle(g.Records, threshold)
		if !ok {
			continue
		}
		cycles = append(cycles, o.toCycle(len(cycles)+1, g.Date, daily))
	}
	return cycles
}

func (o *Optimizer) toCycle(number int, date pricing.CalendarDate, d DailyCycle) pricing.ArbitrageCycle {
	chargeHour, dischargeHour := d.ChargeHour, d.DischargeHour
	chargePrice, dischargePrice := d.ChargePrice, d.DischargePrice
	diff := d.DischargePrice - d.ChargePrice
	profit := d.Profit
	afterLosses := d.Profit * o.efficiency
	return pricing.ArbitrageCycle{
		Number:            number,
		Date:              pricing.ParseDate(date.Display()),
		ChargeHour:        &chargeHour,
		DischargeHour:     &dischargeHour,
		ChargeStart:       pricing.HourLabel(d.ChargeHour),
		ChargeEnd:         pricing.HourLabel(d.ChargeHour + 1),
		DischargeStart:    pricing.HourLabel(d.DischargeHour),
		DischargeEnd:      pricing.HourLabel(d.DischargeHour + 1),
		ChargePrice:       &chargePrice,
		DischargePrice:    &dischargePrice,
		PriceDifference:   &diff,
		Profit:            &profit,
		ProfitAfterLosses: &afterLosses,
	}
}
