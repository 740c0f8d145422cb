package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pricing "market-optimizer/internal/pricing/domain"
)

const defaultPriceTable = "market_prices"

// PriceRepository stores hourly prices keyed by (day, hour).
type PriceRepository struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// RepositoryOption configures the repository.
type RepositoryOption func(*PriceRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *PriceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewPriceRepository constructs a repository.
func NewPriceRepository(db *sql.DB, opts ...RepositoryOption) *PriceRepository {
	repo := &PriceRepository{db: db, table: defaultPriceTable, now: time.Now}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// LoadRange returns stored prices for [start, end] in day order, each day
// in the order it was saved.
// complete is true when every day of the range has rows.
func (r *PriceRepository) LoadRange(ctx context.Context, start, end time.Time) ([]pricing.PriceRecord, bool, error) {
	if r == nil || r.db == nil {
		return nil, false, errors.New("price repo: nil db")
	}
	from := pricing.DateOf(start).Time()
	to := pricing.DateOf(end).Time()
	if to.Before(from) {
		return nil, false, pricing.ErrInvalidRange
	}

	query := fmt.Sprintf(`
SELECT day, hour, price_eur, price_ct_kwh, date_text
FROM %s
WHERE day >= $1 AND day <= $2
ORDER BY day ASC, seq ASC`, r.table)
	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var (
		result []pricing.PriceRecord
		days   = make(map[time.Time]struct{})
	)
	for rows.Next() {
		var (
			day      time.Time
			rec      pricing.PriceRecord
			dateText string
		)
		if err := rows.Scan(&day, &rec.Hour, &rec.PriceEUR, &rec.PriceCtKWh, &dateText); err != nil {
			return nil, false, err
		}
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		days[day] = struct{}{}
		rec.Date = pricing.ParseDate(dateText)
		if !rec.Date.Valid() {
			rec.Date = pricing.DateOf(day)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	expected := int(to.Sub(from).Hours()/24) + 1
	return result, len(days) == expected, nil
}

// SaveRecords replaces every day present in records with the given rows,
// keeping their order and any repeated hours. Rows with unparsable dates are
// skipped.
func (r *PriceRepository) SaveRecords(ctx context.Context, records []pricing.PriceRecord) error {
	if r == nil || r.db == nil {
		return errors.New("price repo: nil db")
	}
	var (
		days  []time.Time
		byDay = make(map[time.Time][]pricing.PriceRecord)
	)
	for _, rec := range records {
		if !rec.Date.Valid() {
			continue
		}
		day := rec.Date.Time()
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], rec)
	}
	if len(days) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE day = $1`, r.table)
	insertQuery := fmt.Sprintf(`
INSERT INTO %s (day, seq, hour, price_eur, price_ct_kwh, date_text, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, r.table)
	fetchedAt := r.now().UTC()
	for _, day := range days {
		if _, err := tx.ExecContext(ctx, deleteQuery, day); err != nil {
			_ = tx.Rollback()
			return err
		}
		for seq, rec := range byDay[day] {
			if _, err := tx.ExecContext(ctx, insertQuery, day, seq, rec.Hour, rec.PriceEUR, rec.PriceCtKWh, rec.Date.Display(), fetchedAt); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

// DeleteBefore removes days older than cutoff and returns the row count.
func (r *PriceRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("price repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE day < $1`, r.table), pricing.DateOf(cutoff).Time())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
