package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"commodity-intel/internal/model"
)

const (
	pgMigrateSQL = `
CREATE TABLE IF NOT EXISTS ai_query_cache (
    commodity       TEXT        NOT NULL,
    timeframe       TEXT        NOT NULL,
    query_date      DATE        NOT NULL,
    query_response  JSONB       NOT NULL,
    cache_hit_count INTEGER     NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (commodity, timeframe, query_date)
);
CREATE TABLE IF NOT EXISTS ai_market_intelligence (
    commodity        TEXT        NOT NULL,
    analysis_date    DATE        NOT NULL,
    trend            TEXT        NOT NULL,
    key_drivers      JSONB       NOT NULL DEFAULT '[]',
    current_price    NUMERIC,
    price_unit       TEXT        NOT NULL DEFAULT '',
    price_change_pct NUMERIC,
    confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    price_outlook    TEXT        NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (commodity, analysis_date)
);
CREATE TABLE IF NOT EXISTS ai_news_items (
    news_id     BIGSERIAL PRIMARY KEY,
    commodity   TEXT        NOT NULL,
    news_date   DATE        NOT NULL,
    headline    TEXT        NOT NULL,
    summary     TEXT        NOT NULL DEFAULT '',
    source_urls JSONB       NOT NULL DEFAULT '[]',
    sentiment   TEXT        NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ai_news_items_commodity_date_idx ON ai_news_items (commodity, news_date DESC);`

	pgCountTablesSQL = `SELECT COUNT(*)
    FROM information_schema.tables
    WHERE table_schema = current_schema()
      AND table_name = ANY($1);`

	pgReadProbeSQL  = `SELECT COUNT(*) FROM (SELECT 1 FROM ai_query_cache LIMIT 1) AS probe;`
	pgWriteProbeSQL = `UPDATE ai_query_cache SET cache_hit_count = cache_hit_count WHERE 1 = 0;`

	pgGetQueryResultSQL = `SELECT
        commodity,
        timeframe,
        query_date,
        query_response,
        cache_hit_count,
        created_at,
        expires_at
    FROM ai_query_cache
    WHERE commodity = $1
      AND timeframe = $2
      AND query_date = $3
      AND expires_at > $4;`

	pgLatestQueryResultSQL = `SELECT
        commodity,
        timeframe,
        query_date,
        query_response,
        cache_hit_count,
        created_at,
        expires_at
    FROM ai_query_cache
    WHERE commodity = $1
      AND timeframe = $2
      AND query_date >= $3
      AND expires_at > $4
    ORDER BY query_date DESC, created_at DESC
    LIMIT 1;`

	pgIncrementHitsSQL = `UPDATE ai_query_cache
    SET cache_hit_count = cache_hit_count + 1
    WHERE commodity = $1 AND timeframe = $2 AND query_date = $3;`

	pgUpsertQueryResultSQL = `INSERT INTO ai_query_cache (
        commodity,
        timeframe,
        query_date,
        query_response,
        cache_hit_count,
        created_at,
        expires_at
    ) VALUES (
        $1,$2,$3,$4,0,$5,$6
    )
    ON CONFLICT (commodity, timeframe, query_date) DO UPDATE
    SET
        query_response  = EXCLUDED.query_response,
        created_at      = EXCLUDED.created_at,
        expires_at      = EXCLUDED.expires_at,
        cache_hit_count = ai_query_cache.cache_hit_count + 1;`

	pgLatestIntelligenceSQL = `SELECT
        commodity,
        analysis_date,
        trend,
        key_drivers,
        current_price::text,
        price_unit,
        price_change_pct::text,
        confidence_score,
        price_outlook,
        created_at
    FROM ai_market_intelligence
    WHERE commodity = $1
      AND analysis_date >= $2
    ORDER BY analysis_date DESC
    LIMIT 1;`

	pgUpsertIntelligenceSQL = `INSERT INTO ai_market_intelligence (
        commodity,
        analysis_date,
        trend,
        key_drivers,
        current_price,
        price_unit,
        price_change_pct,
        confidence_score,
        price_outlook,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (commodity, analysis_date) DO UPDATE
    SET
        trend            = EXCLUDED.trend,
        key_drivers      = EXCLUDED.key_drivers,
        current_price    = EXCLUDED.current_price,
        price_unit       = EXCLUDED.price_unit,
        price_change_pct = EXCLUDED.price_change_pct,
        confidence_score = EXCLUDED.confidence_score,
        price_outlook    = EXCLUDED.price_outlook,
        created_at       = EXCLUDED.created_at;`

	pgRecentNewsSQL = `SELECT
        news_id,
        commodity,
        news_date,
        headline,
        summary,
        source_urls,
        sentiment,
        created_at
    FROM ai_news_items
    WHERE commodity = $1
      AND news_date >= $2
    ORDER BY news_date DESC, news_id DESC
    LIMIT $3;`

	pgRecentNewsBatchSQL = `SELECT
        news_id,
        commodity,
        news_date,
        headline,
        summary,
        source_urls,
        sentiment,
        created_at
    FROM ai_news_items
    WHERE commodity = ANY($1)
      AND news_date >= $2
    ORDER BY commodity, news_date DESC, news_id DESC;`

	pgInsertNewsSQL = `INSERT INTO ai_news_items (
        commodity,
        news_date,
        headline,
        summary,
        source_urls,
        sentiment,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	pgPruneNewsSQL = `DELETE FROM ai_news_items
    WHERE commodity = $1
      AND news_id NOT IN (
        SELECT news_id FROM ai_news_items
        WHERE commodity = $1
        ORDER BY news_date DESC, news_id DESC
        LIMIT $2
      );`

	pgDeleteQueryResultsSQL    = `DELETE FROM ai_query_cache WHERE commodity = $1;`
	pgDeleteAllQueryResultsSQL = `DELETE FROM ai_query_cache;`
)

// PostgresResults persists AI results in PostgreSQL.
type PostgresResults struct {
	pool Querier
}

var _ Backend = (*PostgresResults)(nil)

// NewPostgresResults wires a pool into the Postgres result backend.
func NewPostgresResults(pool Querier) *PostgresResults {
	return &PostgresResults{pool: pool}
}

func (s *PostgresResults) getPool() (Querier, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Close releases the underlying pool resources.
func (s *PostgresResults) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Migrate creates the result tables when missing.
func (s *PostgresResults) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgMigrateSQL); err != nil {
		return eris.Wrap(err, "migrate result tables")
	}
	return nil
}

// ProbeAccess checks table presence, then read, then write permission.
func (s *PostgresResults) ProbeAccess(ctx context.Context) Access {
	pool, err := s.getPool()
	if err != nil {
		return Access{Reason: err.Error()}
	}

	var count int
	if err := pool.QueryRow(ctx, pgCountTablesSQL, resultTables).Scan(&count); err != nil {
		return Access{Reason: "table check failed: " + err.Error()}
	}
	if count < len(resultTables) {
		return Access{Reason: "result tables missing"}
	}

	access := Access{TablesExist: true}
	var rows int
	if err := pool.QueryRow(ctx, pgReadProbeSQL).Scan(&rows); err != nil {
		access.Reason = "read probe failed: " + err.Error()
		return access
	}
	access.Read = true

	if _, err := pool.Exec(ctx, pgWriteProbeSQL); err != nil {
		access.Reason = "write probe failed: " + err.Error()
		return access
	}
	access.Write = true
	return access
}

// GetQueryResult loads an unexpired record by exact key.
func (s *PostgresResults) GetQueryResult(ctx context.Context, key Key, now time.Time) (*model.QueryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx, pgGetQueryResultSQL, key.Commodity, string(key.Timeframe), model.DateOnly(key.Date), now.UTC())
	rec, err := scanQueryRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "get query result")
	}
	return rec, nil
}

// LatestQueryResult loads the newest unexpired record dated on or after since.
func (s *PostgresResults) LatestQueryResult(ctx context.Context, commodity string, timeframe model.Timeframe, since, now time.Time) (*model.QueryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx, pgLatestQueryResultSQL, commodity, string(timeframe), model.DateOnly(since), now.UTC())
	rec, err := scanQueryRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "latest query result")
	}
	return rec, nil
}

// IncrementHits bumps the hit counter of an existing record.
func (s *PostgresResults) IncrementHits(ctx context.Context, key Key) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgIncrementHitsSQL, key.Commodity, string(key.Timeframe), model.DateOnly(key.Date)); err != nil {
		return eris.Wrap(err, "increment hits")
	}
	return nil
}

// UpsertQueryResult inserts or replaces a record; a replace counts as a hit.
func (s *PostgresResults) UpsertQueryResult(ctx context.Context, rec model.QueryRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Result)
	if err != nil {
		return eris.Wrap(err, "encode query response")
	}
	_, err = pool.Exec(ctx, pgUpsertQueryResultSQL,
		rec.Commodity,
		string(rec.Timeframe),
		model.DateOnly(rec.QueryDate),
		payload,
		rec.CreatedAt.UTC(),
		rec.ExpiresAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "upsert query result")
	}
	return nil
}

// LatestIntelligence returns the newest intelligence row on or after since.
func (s *PostgresResults) LatestIntelligence(ctx context.Context, commodity string, since time.Time) (*model.Intelligence, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		in        model.Intelligence
		trend     string
		drivers   []byte
		priceStr  *string
		changeStr *string
	)
	err = pool.QueryRow(ctx, pgLatestIntelligenceSQL, commodity, model.DateOnly(since)).Scan(
		&in.Commodity,
		&in.AnalysisDate,
		&trend,
		&drivers,
		&priceStr,
		&in.PriceUnit,
		&changeStr,
		&in.ConfidenceScore,
		&in.PriceOutlook,
		&in.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "latest intelligence")
	}

	in.Trend = model.ParseTrend(trend)
	if err := decodeStrings(drivers, &in.KeyDrivers); err != nil {
		return nil, eris.Wrap(err, "decode key drivers")
	}
	if in.CurrentPrice, err = parseOptionalDecimal(priceStr); err != nil {
		return nil, eris.Wrap(err, "parse current price")
	}
	if in.PriceChangePct, err = parseOptionalDecimal(changeStr); err != nil {
		return nil, eris.Wrap(err, "parse price change")
	}
	return &in, nil
}

// UpsertIntelligence inserts or replaces the row for (commodity, analysis_date).
func (s *PostgresResults) UpsertIntelligence(ctx context.Context, in model.Intelligence) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	drivers, err := encodeStrings(in.KeyDrivers)
	if err != nil {
		return eris.Wrap(err, "encode key drivers")
	}
	_, err = pool.Exec(ctx, pgUpsertIntelligenceSQL,
		in.Commodity,
		model.DateOnly(in.AnalysisDate),
		string(in.Trend),
		drivers,
		optionalDecimal(in.CurrentPrice),
		in.PriceUnit,
		optionalDecimal(in.PriceChangePct),
		in.ConfidenceScore,
		in.PriceOutlook,
		in.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "upsert intelligence")
	}
	return nil
}

// RecentNews lists up to limit news rows dated on or after since, newest first.
func (s *PostgresResults) RecentNews(ctx context.Context, commodity string, since time.Time, limit int) ([]model.StoredNews, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgRecentNewsSQL, commodity, model.DateOnly(since), limit)
	if err != nil {
		return nil, eris.Wrap(err, "recent news")
	}
	defer rows.Close()

	out := make([]model.StoredNews, 0)
	for rows.Next() {
		item, err := scanStoredNews(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if rows.Err() != nil {
		return nil, eris.Wrap(rows.Err(), "recent news")
	}
	return out, nil
}

// RecentNewsBatch loads news for several commodities in one round trip.
func (s *PostgresResults) RecentNewsBatch(ctx context.Context, commodities []string, since time.Time) (map[string][]model.StoredNews, error) {
	out := make(map[string][]model.StoredNews, len(commodities))
	if len(commodities) == 0 {
		return out, nil
	}
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgRecentNewsBatchSQL, commodities, model.DateOnly(since))
	if err != nil {
		return nil, eris.Wrap(err, "recent news batch")
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanStoredNews(rows)
		if err != nil {
			return nil, err
		}
		out[item.Commodity] = append(out[item.Commodity], item)
	}
	if rows.Err() != nil {
		return nil, eris.Wrap(rows.Err(), "recent news batch")
	}
	return out, nil
}

// InsertNews appends items and prunes the commodity down to keep rows in one transaction.
func (s *PostgresResults) InsertNews(ctx context.Context, commodity string, items []model.StoredNews, keep int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "begin news transaction")
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	for _, item := range items {
		sources, err := encodeStrings(item.Sources)
		if err != nil {
			return eris.Wrap(err, "encode news sources")
		}
		if _, err := tx.Exec(ctx, pgInsertNewsSQL,
			commodity,
			model.DateOnly(item.NewsDate),
			item.Headline,
			item.Summary,
			sources,
			item.Sentiment,
			item.CreatedAt.UTC(),
		); err != nil {
			return eris.Wrap(err, "insert news")
		}
	}
	if keep > 0 {
		if _, err := tx.Exec(ctx, pgPruneNewsSQL, commodity, keep); err != nil {
			return eris.Wrap(err, "prune news")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "commit news")
	}
	return nil
}

// DeleteQueryResults removes cached records for commodity, or all when empty.
func (s *PostgresResults) DeleteQueryResults(ctx context.Context, commodity string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var (
		query = pgDeleteAllQueryResultsSQL
		args  []any
	)
	if commodity != "" {
		query = pgDeleteQueryResultsSQL
		args = append(args, commodity)
	}
	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "delete query results")
	}
	return tag.RowsAffected(), nil
}

func scanQueryRecord(row pgx.Row) (*model.QueryRecord, error) {
	var (
		rec       model.QueryRecord
		timeframe string
		payload   []byte
	)
	if err := row.Scan(
		&rec.Commodity,
		&timeframe,
		&rec.QueryDate,
		&payload,
		&rec.HitCount,
		&rec.CreatedAt,
		&rec.ExpiresAt,
	); err != nil {
		return nil, err
	}
	rec.Timeframe = model.Timeframe(timeframe)
	if err := json.Unmarshal(payload, &rec.Result); err != nil {
		return nil, eris.Wrap(err, "decode query response")
	}
	return &rec, nil
}

func scanStoredNews(rows pgx.Rows) (model.StoredNews, error) {
	var (
		item    model.StoredNews
		sources []byte
	)
	if err := rows.Scan(
		&item.ID,
		&item.Commodity,
		&item.NewsDate,
		&item.Headline,
		&item.Summary,
		&sources,
		&item.Sentiment,
		&item.CreatedAt,
	); err != nil {
		return model.StoredNews{}, eris.Wrap(err, "scan news")
	}
	if err := decodeStrings(sources, &item.Sources); err != nil {
		return model.StoredNews{}, eris.Wrap(err, "decode news sources")
	}
	return item, nil
}

func encodeStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func decodeStrings(raw []byte, dst *[]string) error {
	*dst = []string{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func optionalDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseOptionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
