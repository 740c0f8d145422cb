package pricing

import (
	"encoding/json"
	"math"
	"testing"
)

func TestClassifyPrice_Boundaries(t *testing.T) {
	cases := []struct {
		price    float64
		isCharge bool
		want     Tier
	}{
		{0.0999, true, TierHigh},
		{0.10, true, TierMedium},
		{0.1499, true, TierMedium},
		{0.15, true, TierLow},
		{-0.05, true, TierHigh},
		{0.2001, false, TierHigh},
		{0.20, false, TierMedium},
		{0.1501, false, TierMedium},
		{0.15, false, TierLow},
		{-0.05, false, TierLow},
	}
	for _, tc := range cases {
		if got := ClassifyPrice(tc.price, tc.isCharge); got != tc.want {
			t.Fatalf("ClassifyPrice(%v, %v): expected %s, got %s", tc.price, tc.isCharge, tc.want, got)
		}
	}
}

func TestClassifyProfit_Boundaries(t *testing.T) {
	cases := []struct {
		profit float64
		want   Tier
	}{
		{4.99, TierLow},
		{5, TierMedium},
		{9.99, TierMedium},
		{10, TierHigh},
		{-3, TierLow},
	}
	for _, tc := range cases {
		if got := ClassifyProfit(tc.profit); got != tc.want {
			t.Fatalf("ClassifyProfit(%v): expected %s, got %s", tc.profit, tc.want, got)
		}
	}
}

func TestTier_CSSClass(t *testing.T) {
	if TierHigh.CSSClass() != "high-profit" || TierMedium.CSSClass() != "medium-profit" || TierLow.CSSClass() != "low-profit" {
		t.Fatalf("unexpected css classes")
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestArbitrageCycle_Resolve(t *testing.T) {
	full := ArbitrageCycle{
		ChargePrice:    floatPtr(0.05),
		DischargePrice: floatPtr(0.20),
		Profit:         floatPtr(15),
	}
	got := full.Resolve()
	if math.Abs(got.PriceDifference-0.15) > 1e-9 {
		t.Fatalf("expected derived difference 0.15, got %v", got.PriceDifference)
	}
	if got.ProfitAfterLosses != 0 {
		t.Fatalf("absent profit_after_losses must default to 0")
	}

	explicit := full
	explicit.PriceDifference = floatPtr(0)
	if explicit.Resolve().PriceDifference != 0 {
		t.Fatalf("explicit zero difference must be kept")
	}

	zeroCharge := full
	zeroCharge.ChargePrice = floatPtr(0)
	if zeroCharge.Resolve().PriceDifference != 0 {
		t.Fatalf("difference is not derived when a price is zero")
	}

	missing := ArbitrageCycle{DischargePrice: floatPtr(0.2)}
	res := missing.Resolve()
	if res.PriceDifference != 0 || res.ChargePrice != 0 || res.ChargeHour != nil {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestArbitrageCycle_HoursFromLabels(t *testing.T) {
	var c ArbitrageCycle
	payload := `{"cycle":1,"date":"2024-01-02","charge_start":"3:00","discharge_start":"18:00","profit":12.5}`
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.ChargeHour == nil || *c.ChargeHour != 3 {
		t.Fatalf("expected charge hour 3, got %v", c.ChargeHour)
	}
	if c.DischargeHour == nil || *c.DischargeHour != 18 {
		t.Fatalf("expected discharge hour 18, got %v", c.DischargeHour)
	}
	if c.Date.Display() != "02.01.2024" {
		t.Fatalf("unexpected date %s", c.Date.Display())
	}
	if c.ChargePrice != nil {
		t.Fatalf("absent charge price must stay nil")
	}
}

func TestSummarizeCycles_Scenario(t *testing.T) {
	cycles := []ArbitrageCycle{
		{Number: 1, Profit: floatPtr(3)},
		{Number: 2, Profit: floatPtr(12)},
		{Number: 3, Profit: floatPtr(7)},
	}
	got, err := SummarizeCycles(cycles)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got.Count != 3 || got.TotalProfit != 22 {
		t.Fatalf("unexpected summary %+v", got)
	}
	if math.Abs(got.AvgProfit-22.0/3.0) > 1e-9 {
		t.Fatalf("unexpected avg %v", got.AvgProfit)
	}
	if got.MaxProfitCycle.Number != 2 {
		t.Fatalf("expected cycle 2 as max, got %d", got.MaxProfitCycle.Number)
	}
}

func TestSummarizeCycles_TieAndEmpty(t *testing.T) {
	got, err := SummarizeCycles([]ArbitrageCycle{
		{Number: 1, Profit: floatPtr(8)},
		{Number: 2, Profit: floatPtr(8)},
		{Number: 3},
	})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got.MaxProfitCycle.Number != 1 {
		t.Fatalf("expected first max to win, got %d", got.MaxProfitCycle.Number)
	}
	if _, err := SummarizeCycles(nil); err != ErrEmptyBatch {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}
