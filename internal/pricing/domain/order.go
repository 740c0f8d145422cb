package pricing

import (
	"slices"
	"strings"
)

// DayGroup is the ordered run of records sharing one display date.
type DayGroup struct {
	Date    CalendarDate
	Records []PriceRecord
}

// SortRecords returns a new slice ordered by (date, display label, hour).
// Same-day dates written differently stay in separate contiguous runs. The
// sort is stable, so duplicate keys keep their input order. The input is not
// modified.
func SortRecords(records []PriceRecord) []PriceRecord {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, compareRecords)
	return sorted
}

func compareRecords(a, b PriceRecord) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	if c := strings.Compare(a.Date.Display(), b.Date.Display()); c != 0 {
		return c
	}
	return a.Hour - b.Hour
}

// GroupByDay splits sorted records into per-day groups in a single pass,
// opening a new group whenever the display date changes.
func GroupByDay(sorted []PriceRecord) []DayGroup {
	var groups []DayGroup
	prev := ""
	for i, rec := range sorted {
		label := rec.Date.Display()
		if i == 0 || label != prev {
			groups = append(groups, DayGroup{Date: rec.Date})
			prev = label
		}
		last := &groups[len(groups)-1]
		last.Records = append(last.Records, rec)
	}
	return groups
}

// Flatten concatenates the records of all groups in order.
func Flatten(groups []DayGroup) []PriceRecord {
	var out []PriceRecord
	for _, g := range groups {
		out = append(out, g.Records...)
	}
	return out
}
