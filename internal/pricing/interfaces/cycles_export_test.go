package interfaces

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"market-optimizer/internal/pricing/application"
	pricing "market-optimizer/internal/pricing/domain"
)

func sampleView() application.CycleView {
	charge, discharge, profit, after := 0.05, 0.25, 20.0, 17.0
	hourA, hourB := 3, 18
	return application.BuildCycleView([]pricing.ArbitrageCycle{{
		Number:            1,
		Date:              pricing.ParseDate("01.01.2024"),
		ChargeHour:        &hourA,
		DischargeHour:     &hourB,
		ChargePrice:       &charge,
		DischargePrice:    &discharge,
		Profit:            &profit,
		ProfitAfterLosses: &after,
	}})
}

func TestBuildCyclesXLSX(t *testing.T) {
	meta := ExportMeta{
		Start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Threshold: 5,
	}
	data, err := BuildCyclesXLSX(sampleView(), meta)
	if err != nil {
		t.Fatalf("xlsx: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	period, _ := f.GetCellValue("summary", "B3")
	if period != "01.01.2024 - 31.01.2024" {
		t.Fatalf("unexpected period %q", period)
	}
	date, _ := f.GetCellValue("cycles", "B2")
	charge, _ := f.GetCellValue("cycles", "C2")
	tier, _ := f.GetCellValue("cycles", "J2")
	if date != "01.01.2024" || charge != "3:00" || tier != "high" {
		t.Fatalf("unexpected row: date=%q charge=%q tier=%q", date, charge, tier)
	}
}

func TestBuildCyclesPDF(t *testing.T) {
	for _, view := range []application.CycleView{sampleView(), application.BuildCycleView(nil)} {
		data, err := BuildCyclesPDF(view, ExportMeta{IsTestData: true, GeneratedAt: time.Now()})
		if err != nil {
			t.Fatalf("pdf: %v", err)
		}
		if !bytes.HasPrefix(data, []byte("%PDF")) {
			t.Fatalf("output is not a pdf")
		}
	}
}
