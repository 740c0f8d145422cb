package pricing

import (
	"encoding/json"
	"fmt"
)

// MorningCutoff splits the day: hours below it are charge candidates,
// hours at or above it are discharge candidates.
const MorningCutoff = 12

// PriceRecord is one hourly market price.
type PriceRecord struct {
	Date       CalendarDate `json:"date"`
	Hour       int          `json:"hour"`
	PriceEUR   float64      `json:"price_eur"`
	PriceCtKWh float64      `json:"price_ct_kwh"`
}

// NewPriceRecord builds a record from a cent price.
func NewPriceRecord(date CalendarDate, hour int, priceCtKWh float64) (PriceRecord, error) {
	if hour < 0 || hour > 23 {
		return PriceRecord{}, fmt.Errorf("%w: %d", ErrInvalidHour, hour)
	}
	return PriceRecord{
		Date:       date,
		Hour:       hour,
		PriceEUR:   priceCtKWh / 100.0,
		PriceCtKWh: priceCtKWh,
	}, nil
}

// IsMorning reports whether the record is a charge candidate.
func (r PriceRecord) IsMorning() bool { return r.Hour < MorningCutoff }

// UnmarshalJSON derives price_eur from price_ct_kwh when the former is absent.
func (r *PriceRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Date       CalendarDate `json:"date"`
		Hour       int          `json:"hour"`
		PriceEUR   *float64     `json:"price_eur"`
		PriceCtKWh *float64     `json:"price_ct_kwh"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec := PriceRecord{Date: raw.Date, Hour: raw.Hour}
	if raw.PriceCtKWh != nil {
		rec.PriceCtKWh = *raw.PriceCtKWh
	}
	switch {
	case raw.PriceEUR != nil:
		rec.PriceEUR = *raw.PriceEUR
	case raw.PriceCtKWh != nil:
		rec.PriceEUR = *raw.PriceCtKWh / 100.0
	}
	*r = rec
	return nil
}
