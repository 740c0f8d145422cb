package application

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	pricing "market-optimizer/internal/pricing/domain"
)

func TestDailyMinMaxCycle(t *testing.T) {
	opt, err := NewOptimizer(0, 0)
	if err != nil {
		t.Fatalf("new optimizer: %v", err)
	}
	day := []pricing.PriceRecord{
		record("01.01.2024", 18, 0.75),
		record("01.01.2024", 3, 0.25),
		record("01.01.2024", 12, 0.5),
	}
	got, ok := opt.DailyMinMaxCycle(day, 0)
	if !ok {
		t.Fatalf("expected a cycle")
	}
	if got.ChargeHour != 3 || got.DischargeHour != 18 {
		t.Fatalf("unexpected hours %+v", got)
	}
	if got.Profit != 50 {
		t.Fatalf("expected profit 50, got %v", got.Profit)
	}
	if _, ok := opt.DailyMinMaxCycle(day, 50); ok {
		t.Fatalf("profit equal to threshold must not qualify")
	}
}

func TestDailyMinMaxCycle_MaxBeforeMin(t *testing.T) {
	opt, _ := NewOptimizer(100, 0.85)
	day := []pricing.PriceRecord{
		record("01.01.2024", 2, 0.30),
		record("01.01.2024", 20, 0.04),
	}
	if _, ok := opt.DailyMinMaxCycle(day, 0); ok {
		t.Fatalf("expected no cycle when the peak precedes the trough")
	}
	if _, ok := opt.DailyMinMaxCycle(nil, 0); ok {
		t.Fatalf("expected no cycle for an empty day")
	}
}

func TestOptimize_NumbersCyclesByDay(t *testing.T) {
	opt, _ := NewOptimizer(100, 0.85)
	records := []pricing.PriceRecord{
		record("2024-01-02", 1, 0.05),
		record("2024-01-02", 19, 0.15),
		record("01.01.2024", 1, 0.30),
		record("01.01.2024", 19, 0.10),
		record("03.01.2024", 4, 0.02),
		record("03.01.2024", 17, 0.22),
	}
	cycles := opt.Optimize(records, 0)
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(cycles))
	}
	first := cycles[0]
	if first.Number != 1 || first.Date.Display() != "02.01.2024" {
		t.Fatalf("unexpected first cycle %+v", first)
	}
	if *first.ChargeHour != 1 || *first.DischargeHour != 19 || first.ChargeStart != "1:00" || first.ChargeEnd != "2:00" || first.DischargeEnd != "20:00" {
		t.Fatalf("unexpected hours %+v", first)
	}
	if math.Abs(*first.Profit-10) > 1e-9 || math.Abs(*first.ProfitAfterLosses-8.5) > 1e-9 {
		t.Fatalf("unexpected profit %v / %v", *first.Profit, *first.ProfitAfterLosses)
	}
	if math.Abs(*first.PriceDifference-0.10) > 1e-9 {
		t.Fatalf("unexpected difference %v", *first.PriceDifference)
	}
	if cycles[1].Number != 2 || cycles[1].Date.Display() != "03.01.2024" {
		t.Fatalf("unexpected second cycle %+v", cycles[1])
	}
}

func TestNewOptimizer_Validation(t *testing.T) {
	if _, err := NewOptimizer(-1, 0.5); err == nil {
		t.Fatalf("expected error for negative capacity")
	}
	if _, err := NewOptimizer(100, 1.5); err == nil {
		t.Fatalf("expected error for efficiency above 1")
	}
}

func TestSyntheticSource_ShapeAndFloor(t *testing.T) {
	src := NewSyntheticSource(rand.New(rand.NewSource(7)))
	start := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	records, err := src.FetchPrices(context.Background(), start, end)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 72 {
		t.Fatalf("expected 72 rows, got %d", len(records))
	}
	for i, r := range records {
		if r.Hour != i%24 {
			t.Fatalf("row %d: expected hour %d, got %d", i, i%24, r.Hour)
		}
		if r.PriceCtKWh < 1.0 {
			t.Fatalf("row %d: price below floor %v", i, r.PriceCtKWh)
		}
		if math.Abs(r.PriceEUR-r.PriceCtKWh/100) > 1e-12 {
			t.Fatalf("row %d: eur/ct mismatch", i)
		}
	}
	if records[0].Date.Display() != "01.03.2024" || records[71].Date.Display() != "03.03.2024" {
		t.Fatalf("unexpected date range %s - %s", records[0].Date.Display(), records[71].Date.Display())
	}

	backwards, err := src.FetchPrices(context.Background(), end, start)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(backwards) != 24 {
		t.Fatalf("expected a single day for a reversed range, got %d rows", len(backwards))
	}
}

func TestLoadSettings(t *testing.T) {
	cfg, err := LoadSettings("")
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if cfg.CapacityKWh != 100 || cfg.Efficiency != 0.85 || cfg.Prefetch.Cron == "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	path := filepath.Join(t.TempDir(), "optimizer.yaml")
	body := "capacity_kwh: 50\nefficiency: 0.9\nuse_test_data_by_default: true\nprefetch:\n  lookahead_days: 2\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadSettings(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CapacityKWh != 50 || cfg.Efficiency != 0.9 || !cfg.UseTestDataByDefault {
		t.Fatalf("unexpected settings %+v", cfg)
	}
	if cfg.Prefetch.LookaheadDays != 2 || cfg.Prefetch.Cron != "0 30 14 * * *" {
		t.Fatalf("nested defaults must survive partial yaml, got %+v", cfg.Prefetch)
	}
	if cfg.MarketLookbackDays != 7 {
		t.Fatalf("unset keys must keep defaults, got %d", cfg.MarketLookbackDays)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("efficiency: 2\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSettings(bad); err == nil {
		t.Fatalf("expected validation error")
	}
}
