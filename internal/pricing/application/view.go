package application

import (
	"math"

	pricing "market-optimizer/internal/pricing/domain"
)

// NoCyclesMessage is shown instead of a cycle summary when nothing qualified.
const NoCyclesMessage = "No profit cycles found with the specified threshold."

// RecordView is a price row tagged for display.
type RecordView struct {
	Date       string       `json:"date"`
	Hour       int          `json:"hour"`
	HourLabel  string       `json:"hour_label"`
	PriceEUR   float64      `json:"price_eur"`
	PriceCtKWh float64      `json:"price_ct_kwh"`
	IsCharge   bool         `json:"is_charge"`
	Tier       pricing.Tier `json:"tier,omitempty"`
}

// DayView is one day of rows plus its best charge and discharge hours.
type DayView struct {
	Date      string       `json:"date"`
	Records   []RecordView `json:"records"`
	Charge    *RecordView  `json:"charge,omitempty"`
	Discharge *RecordView  `json:"discharge,omitempty"`
}

// MarketView is the ordered, grouped and tiered rendering of a price batch.
type MarketView struct {
	Days       []DayView            `json:"days"`
	Summary    pricing.PriceSummary `json:"summary"`
	IsTestData bool                 `json:"is_test_data"`
	Message    string               `json:"message,omitempty"`
}

// BuildMarketView runs sort, group, extrema, tiers and summary over records.
// Morning rows are tiered as charge prices, the rest as discharge prices.
func BuildMarketView(records []pricing.PriceRecord) (MarketView, error) {
	if len(records) == 0 {
		return MarketView{}, pricing.ErrEmptyBatch
	}
	sorted := pricing.SortRecords(records)
	summary, err := pricing.SummarizePrices(sorted)
	if err != nil {
		return MarketView{}, err
	}

	groups := pricing.GroupByDay(sorted)
	days := make([]DayView, 0, len(groups))
	for _, g := range groups {
		day := DayView{Date: g.Date.Display(), Records: make([]RecordView, 0, len(g.Records))}
		for _, r := range g.Records {
			day.Records = append(day.Records, recordView(r))
		}
		ext := pricing.SelectExtrema(g)
		if ext.Charge != nil {
			v := recordView(*ext.Charge)
			day.Charge = &v
		}
		if ext.Discharge != nil {
			v := recordView(*ext.Discharge)
			day.Discharge = &v
		}
		days = append(days, day)
	}
	return MarketView{Days: days, Summary: summary}, nil
}

func recordView(r pricing.PriceRecord) RecordView {
	return RecordView{
		Date:       r.Date.Display(),
		Hour:       r.Hour,
		HourLabel:  pricing.HourLabel(r.Hour),
		PriceEUR:   r.PriceEUR,
		PriceCtKWh: r.PriceCtKWh,
		IsCharge:   r.IsMorning(),
		Tier:       priceTier(r.PriceEUR, r.IsMorning()),
	}
}

// CycleRow is a resolved cycle tagged for display.
type CycleRow struct {
	Number            int          `json:"cycle,omitempty"`
	Date              string       `json:"date"`
	ChargeTime        string       `json:"charge_time"`
	DischargeTime     string       `json:"discharge_time"`
	ChargePrice       float64      `json:"charge_price"`
	DischargePrice    float64      `json:"discharge_price"`
	PriceDifference   float64      `json:"price_difference"`
	Profit            float64      `json:"profit"`
	ProfitAfterLosses float64      `json:"profit_after_losses"`
	ChargeTier        pricing.Tier `json:"charge_tier,omitempty"`
	DischargeTier     pricing.Tier `json:"discharge_tier,omitempty"`
	ProfitTier        pricing.Tier `json:"profit_tier,omitempty"`
}

// CycleView is the display form of a cycle batch. Summary is nil when the
// batch is empty and Message explains why.
type CycleView struct {
	Rows       []CycleRow            `json:"rows"`
	Summary    *pricing.CycleSummary `json:"summary,omitempty"`
	IsTestData bool                  `json:"is_test_data"`
	Message    string                `json:"message,omitempty"`
}

// BuildCycleView resolves optional cycle fields, tiers prices and the
// after-loss profit, and summarizes the batch.
func BuildCycleView(cycles []pricing.ArbitrageCycle) CycleView {
	if len(cycles) == 0 {
		return CycleView{Rows: []CycleRow{}, Message: NoCyclesMessage}
	}
	rows := make([]CycleRow, 0, len(cycles))
	for _, c := range cycles {
		res := c.Resolve()
		rows = append(rows, CycleRow{
			Number:            c.Number,
			Date:              c.Date.Display(),
			ChargeTime:        hourOrDash(res.ChargeHour),
			DischargeTime:     hourOrDash(res.DischargeHour),
			ChargePrice:       res.ChargePrice,
			DischargePrice:    res.DischargePrice,
			PriceDifference:   res.PriceDifference,
			Profit:            res.Profit,
			ProfitAfterLosses: res.ProfitAfterLosses,
			ChargeTier:        priceTier(res.ChargePrice, true),
			DischargeTier:     priceTier(res.DischargePrice, false),
			ProfitTier:        profitTier(res.ProfitAfterLosses),
		})
	}
	summary, err := pricing.SummarizeCycles(cycles)
	if err != nil {
		return CycleView{Rows: rows, Message: NoCyclesMessage}
	}
	return CycleView{Rows: rows, Summary: &summary}
}

func hourOrDash(hour *int) string {
	if hour == nil {
		return "--"
	}
	return pricing.HourLabel(*hour)
}

// priceTier leaves non-finite values untiered so they render as a placeholder.
func priceTier(price float64, isCharge bool) pricing.Tier {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return ""
	}
	return pricing.ClassifyPrice(price, isCharge)
}

func profitTier(profit float64) pricing.Tier {
	if math.IsNaN(profit) || math.IsInf(profit, 0) {
		return ""
	}
	return pricing.ClassifyProfit(profit)
}
