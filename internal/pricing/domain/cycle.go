package pricing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ArbitrageCycle is one charge/discharge pair for a day. Every numeric field
// is optional: nil means the producer omitted it.
type ArbitrageCycle struct {
	Number            int          `json:"cycle,omitempty"`
	Date              CalendarDate `json:"date"`
	ChargeHour        *int         `json:"charge_hour,omitempty"`
	DischargeHour     *int         `json:"discharge_hour,omitempty"`
	ChargeStart       string       `json:"charge_start,omitempty"`
	ChargeEnd         string       `json:"charge_end,omitempty"`
	DischargeStart    string       `json:"discharge_start,omitempty"`
	DischargeEnd      string       `json:"discharge_end,omitempty"`
	ChargePrice       *float64     `json:"charge_price,omitempty"`
	DischargePrice    *float64     `json:"discharge_price,omitempty"`
	PriceDifference   *float64     `json:"price_difference,omitempty"`
	Profit            *float64     `json:"profit,omitempty"`
	ProfitAfterLosses *float64     `json:"profit_after_losses,omitempty"`
}

// ResolvedCycle carries the defaulted values used for display and math.
type ResolvedCycle struct {
	ChargeHour        *int
	DischargeHour     *int
	ChargePrice       float64
	DischargePrice    float64
	PriceDifference   float64
	Profit            float64
	ProfitAfterLosses float64
}

// Resolve applies the defaulting rules: absent numbers become 0, and a
// missing price difference is derived only when both prices are present
// and non-zero.
func (c ArbitrageCycle) Resolve() ResolvedCycle {
	out := ResolvedCycle{
		ChargeHour:        c.ChargeHour,
		DischargeHour:     c.DischargeHour,
		ChargePrice:       valueOrZero(c.ChargePrice),
		DischargePrice:    valueOrZero(c.DischargePrice),
		Profit:            valueOrZero(c.Profit),
		ProfitAfterLosses: valueOrZero(c.ProfitAfterLosses),
	}
	switch {
	case c.PriceDifference != nil:
		out.PriceDifference = *c.PriceDifference
	case c.ChargePrice != nil && c.DischargePrice != nil && *c.ChargePrice != 0 && *c.DischargePrice != 0:
		out.PriceDifference = *c.DischargePrice - *c.ChargePrice
	}
	return out
}

// ProfitValue returns the profit, or 0 when absent.
func (c ArbitrageCycle) ProfitValue() float64 { return valueOrZero(c.Profit) }

// HourLabel renders an hour as "H:00".
func HourLabel(hour int) string { return fmt.Sprintf("%d:00", hour) }

// UnmarshalJSON fills charge_hour/discharge_hour from the "H:00" start
// labels when only the labels were sent.
func (c *ArbitrageCycle) UnmarshalJSON(data []byte) error {
	type alias ArbitrageCycle
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ChargeHour == nil {
		raw.ChargeHour = hourFromLabel(raw.ChargeStart)
	}
	if raw.DischargeHour == nil {
		raw.DischargeHour = hourFromLabel(raw.DischargeStart)
	}
	*c = ArbitrageCycle(raw)
	return nil
}

func hourFromLabel(label string) *int {
	if label == "" {
		return nil
	}
	head, _, _ := strings.Cut(label, ":")
	hour, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return nil
	}
	return &hour
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
