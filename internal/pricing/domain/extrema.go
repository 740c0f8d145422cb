package pricing

// Extrema holds the best charge and discharge records of a day.
// Either may be nil.
type Extrema struct {
	Charge    *PriceRecord
	Discharge *PriceRecord
}

// SelectExtrema picks the cheapest morning hour and the most expensive
// evening hour of a day. Ties go to the first record in group order.
//
// The discharge hour is only looked up when a charge hour exists; a day
// without morning data reports neither. This coupling is kept for parity
// with the existing frontend.
func SelectExtrema(group DayGroup) Extrema {
	var out Extrema
	for i := range group.Records {
		rec := group.Records[i]
		if !rec.IsMorning() {
			continue
		}
		if out.Charge == nil || rec.PriceEUR < out.Charge.PriceEUR {
			out.Charge = &rec
		}
	}
	if out.Charge == nil {
		return out
	}
	for i := range group.Records {
		rec := group.Records[i]
		if rec.IsMorning() {
			continue
		}
		if out.Discharge == nil || rec.PriceEUR > out.Discharge.PriceEUR {
			out.Discharge = &rec
		}
	}
	return out
}
