package csvcodec

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	pricing "market-optimizer/internal/pricing/domain"
)

// Netztransparenz column names.
const (
	ColumnDate        = "Datum"
	ColumnFrom        = "von"
	ColumnFromZone    = "Zeitzone von"
	ColumnTo          = "bis"
	ColumnToZone      = "Zeitzone bis"
	ColumnSpotPriceCt = "Spotmarktpreis in ct/kWh"
)

const (
	apiMinColumns     = 6
	apiPriceColumn    = 5
	profitColumn      = "Profit (EUR)"
	emptyProfitColumn = "Profit"
)

var cycleColumns = []string{"Cycle", "Date", "Charge_Start", "Charge_End", "Discharge_Start", "Discharge_End", "Charge_Price", "Discharge_Price"}

var (
	// ErrMissingColumns is returned when an upload lacks a required header.
	ErrMissingColumns = errors.New("csvcodec: missing required columns")
	// ErrNoRows is returned when no row of an upload could be parsed.
	ErrNoRows = errors.New("csvcodec: no price rows found")
	// ErrNonFinitePrice is returned for NaN or infinite prices.
	ErrNonFinitePrice = errors.New("csvcodec: non-finite price")
)

var requiredColumns = []string{ColumnDate, ColumnFrom, ColumnFromZone, ColumnTo, ColumnToZone, ColumnSpotPriceCt}

// ParsePrices reads a user upload. Columns are located by header name in any
// order; rows that fail to parse are skipped and counted.
func ParsePrices(r io.Reader) ([]pricing.PriceRecord, int, error) {
	reader := newReader(r)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, 0, ErrMissingColumns
	}
	if err != nil {
		return nil, 0, fmt.Errorf("csvcodec: read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, 0, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var (
		out     []pricing.PriceRecord
		skipped int
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		if isBlank(row) {
			continue
		}
		rec, err := parseRow(row, index[ColumnDate], index[ColumnFrom], index[ColumnSpotPriceCt])
		if err != nil || !rec.Date.Valid() {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, skipped, ErrNoRows
	}
	return out, skipped, nil
}

// ParseAPIResponse reads the market API body. Columns are positional: date,
// start time and the cent price in the sixth column. Short or malformed
// rows are skipped; an empty body yields no records and no error.
func ParseAPIResponse(r io.Reader) ([]pricing.PriceRecord, int, error) {
	reader := newReader(r)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("csvcodec: read header: %w", err)
	}
	var (
		out     []pricing.PriceRecord
		skipped int
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(row) < apiMinColumns {
			skipped++
			continue
		}
		rec, err := parseRow(row, 0, 1, apiPriceColumn)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, skipped, nil
}

// WriteCycles renders cycles in the semicolon format with comma decimals.
// Fields containing the separator or quotes are quoted.
func WriteCycles(w io.Writer, cycles []pricing.ArbitrageCycle) error {
	writer := csv.NewWriter(w)
	writer.Comma = ';'
	header := append(slices.Clone(cycleColumns), profitColumn)
	if len(cycles) == 0 {
		header[len(header)-1] = emptyProfitColumn
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, c := range cycles {
		res := c.Resolve()
		if err := writer.Write([]string{
			strconv.Itoa(c.Number),
			c.Date.Display(),
			c.ChargeStart,
			c.ChargeEnd,
			c.DischargeStart,
			c.DischargeEnd,
			decimal(res.ChargePrice, 4),
			decimal(res.DischargePrice, 4),
			decimal(res.Profit, 2),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	return reader
}

func parseRow(row []string, dateIdx, hourIdx, priceIdx int) (pricing.PriceRecord, error) {
	if dateIdx >= len(row) || hourIdx >= len(row) || priceIdx >= len(row) {
		return pricing.PriceRecord{}, errors.New("csvcodec: short row")
	}
	hourText, _, _ := strings.Cut(strings.TrimSpace(row[hourIdx]), ":")
	hour, err := strconv.Atoi(hourText)
	if err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("csvcodec: hour %q: %w", row[hourIdx], err)
	}
	ct, err := parseDecimal(row[priceIdx])
	if err != nil {
		return pricing.PriceRecord{}, err
	}
	return pricing.NewPriceRecord(pricing.ParseDate(strings.TrimSpace(row[dateIdx])), hour, ct)
}

// parseDecimal accepts both comma and point decimals. NaN and infinities
// are rejected.
func parseDecimal(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(text), ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("csvcodec: price %q: %w", text, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrNonFinitePrice, text)
	}
	return v, nil
}

// decimal rounds to places and prints the shortest form with a comma,
// keeping at least one fractional digit.
func decimal(v float64, places int) string {
	scale := math.Pow(10, float64(places))
	s := strconv.FormatFloat(math.Round(v*scale)/scale, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !math.IsNaN(v) && !math.IsInf(v, 0) {
		s += ".0"
	}
	return strings.ReplaceAll(s, ".", ",")
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
