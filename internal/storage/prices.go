package storage

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"commodity-intel/internal/model"
)

const (
	listCommoditiesSQL = `SELECT
        ticker,
        display_name,
        sector,
        COALESCE(unit, '')
    FROM ticker_reference
    WHERE active
    ORDER BY sector, display_name;`

	priceSeriesSQL = `SELECT
        ticker,
        price_date,
        price::text
    FROM commodity_prices
    WHERE ticker = $1
      AND price_date >= $2
      AND price_date <= $3
    ORDER BY price_date;`

	latestPriceDateSQL = `SELECT MAX(price_date) FROM commodity_prices;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_xact_lock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// PriceStore reads the historical price tables and ticker reference.
type PriceStore struct {
	pool Querier
}

var _ AdvisoryLocker = (*PriceStore)(nil)

// NewPriceStore wires a pool into a PriceStore.
func NewPriceStore(pool Querier) *PriceStore {
	return &PriceStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PriceStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *PriceStore) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

func (s *PriceStore) getPool() (Querier, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListCommodities returns active tickers ordered by sector and name.
func (s *PriceStore) ListCommodities(ctx context.Context) ([]model.Commodity, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listCommoditiesSQL)
	if err != nil {
		return nil, eris.Wrap(err, "list commodities")
	}
	defer rows.Close()

	out := make([]model.Commodity, 0)
	for rows.Next() {
		var c model.Commodity
		if err := rows.Scan(&c.Ticker, &c.Name, &c.Sector, &c.Unit); err != nil {
			return nil, eris.Wrap(err, "scan commodity")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, eris.Wrap(rows.Err(), "list commodities")
	}
	return out, nil
}

// PriceSeries returns observations for ticker in [from, to], ordered by date.
func (s *PriceStore) PriceSeries(ctx context.Context, ticker string, from, to time.Time) ([]model.PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, priceSeriesSQL, ticker, model.DateOnly(from), model.DateOnly(to))
	if err != nil {
		return nil, eris.Wrapf(err, "price series %s", ticker)
	}
	defer rows.Close()

	out := make([]model.PriceObservation, 0)
	for rows.Next() {
		var (
			obs      model.PriceObservation
			priceStr string
		)
		if err := rows.Scan(&obs.Ticker, &obs.Date, &priceStr); err != nil {
			return nil, eris.Wrap(err, "scan price")
		}
		obs.Price, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, eris.Wrapf(err, "parse price %q", priceStr)
		}
		out = append(out, obs)
	}
	if rows.Err() != nil {
		return nil, eris.Wrap(rows.Err(), "price series")
	}
	return out, nil
}

// LatestPriceDate is the "data last updated" marker. Zero when no prices exist.
func (s *PriceStore) LatestPriceDate(ctx context.Context) (time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, err
	}
	var latest *time.Time
	if err := pool.QueryRow(ctx, latestPriceDateSQL).Scan(&latest); err != nil {
		return time.Time{}, eris.Wrap(err, "latest price date")
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return model.DateOnly(*latest), nil
}

// TryAdvisoryLock takes a transaction-scoped advisory lock; unlock ends the transaction.
func (s *PriceStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "begin lock transaction")
	}

	var acquired bool
	if err := tx.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, false, eris.Wrap(err, "try advisory lock")
	}
	if !acquired {
		_ = tx.Rollback(context.Background())
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tx.Rollback(ctxUnlock)
	}
	return unlock, true, nil
}
