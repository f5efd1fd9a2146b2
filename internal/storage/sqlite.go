package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"commodity-intel/internal/model"
)

// Timestamps are stored as fixed-width UTC text so string comparison orders them.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ai_query_cache (
	commodity       TEXT    NOT NULL,
	timeframe       TEXT    NOT NULL,
	query_date      TEXT    NOT NULL,
	query_response  TEXT    NOT NULL,
	cache_hit_count INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT    NOT NULL,
	expires_at      TEXT    NOT NULL,
	PRIMARY KEY (commodity, timeframe, query_date)
);

CREATE TABLE IF NOT EXISTS ai_market_intelligence (
	commodity        TEXT NOT NULL,
	analysis_date    TEXT NOT NULL,
	trend            TEXT NOT NULL,
	key_drivers      TEXT NOT NULL DEFAULT '[]',
	current_price    TEXT,
	price_unit       TEXT NOT NULL DEFAULT '',
	price_change_pct TEXT,
	confidence_score REAL NOT NULL DEFAULT 0,
	price_outlook    TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	PRIMARY KEY (commodity, analysis_date)
);

CREATE TABLE IF NOT EXISTS ai_news_items (
	news_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	commodity   TEXT NOT NULL,
	news_date   TEXT NOT NULL,
	headline    TEXT NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	source_urls TEXT NOT NULL DEFAULT '[]',
	sentiment   TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ai_news_items_commodity_date ON ai_news_items(commodity, news_date);
CREATE INDEX IF NOT EXISTS idx_ai_query_cache_expires_at ON ai_query_cache(expires_at);
`

const queryRecordColumns = `commodity, timeframe, query_date, query_response, cache_hit_count, created_at, expires_at`

const newsColumns = `news_id, commodity, news_date, headline, summary, source_urls, sentiment, created_at`

// SQLiteResults persists AI results in a local SQLite database.
type SQLiteResults struct {
	db *sql.DB
}

var _ Backend = (*SQLiteResults)(nil)

// NewSQLiteResults opens a SQLite database at dsn and configures WAL mode.
func NewSQLiteResults(dsn string) (*SQLiteResults, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteResults{db: db}, nil
}

// Migrate creates the result tables and indexes if they do not exist.
func (s *SQLiteResults) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database handle.
func (s *SQLiteResults) Close() error {
	return s.db.Close()
}

// ProbeAccess checks the schema, then a read, then a no-op UPDATE.
func (s *SQLiteResults) ProbeAccess(ctx context.Context) Access {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN (?, ?, ?)`,
		queryCacheTable, intelligenceTable, newsTable,
	).Scan(&count)
	if err != nil {
		return Access{Reason: "table check failed: " + err.Error()}
	}
	if count < len(resultTables) {
		return Access{Reason: "result tables missing"}
	}

	access := Access{TablesExist: true}
	var rows int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM (SELECT 1 FROM ai_query_cache LIMIT 1)`).Scan(&rows); err != nil {
		access.Reason = "read probe failed: " + err.Error()
		return access
	}
	access.Read = true

	if _, err := s.db.ExecContext(ctx, `UPDATE ai_query_cache SET cache_hit_count = cache_hit_count WHERE 1 = 0`); err != nil {
		access.Reason = "write probe failed: " + err.Error()
		return access
	}
	access.Write = true
	return access
}

// GetQueryResult returns the record stored under key, or nil when missing or expired.
func (s *SQLiteResults) GetQueryResult(ctx context.Context, key Key, now time.Time) (*model.QueryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queryRecordColumns+` FROM ai_query_cache
		 WHERE commodity = ? AND timeframe = ? AND query_date = ? AND expires_at > ?`,
		key.Commodity, string(key.Timeframe), sqliteDate(key.Date), sqliteTime(now),
	)
	rec, err := scanSQLiteQueryRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, eris.Wrap(err, "sqlite: get query result")
}

// LatestQueryResult returns the newest unexpired record dated since or later.
func (s *SQLiteResults) LatestQueryResult(ctx context.Context, commodity string, timeframe model.Timeframe, since, now time.Time) (*model.QueryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queryRecordColumns+` FROM ai_query_cache
		 WHERE commodity = ? AND timeframe = ? AND query_date >= ? AND expires_at > ?
		 ORDER BY query_date DESC, created_at DESC LIMIT 1`,
		commodity, string(timeframe), sqliteDate(since), sqliteTime(now),
	)
	rec, err := scanSQLiteQueryRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, eris.Wrap(err, "sqlite: latest query result")
}

// IncrementHits adds one to the record's hit counter.
func (s *SQLiteResults) IncrementHits(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ai_query_cache SET cache_hit_count = cache_hit_count + 1
		 WHERE commodity = ? AND timeframe = ? AND query_date = ?`,
		key.Commodity, string(key.Timeframe), sqliteDate(key.Date),
	)
	return eris.Wrap(err, "sqlite: increment hits")
}

// UpsertQueryResult writes rec; saving an existing key bumps its hit count.
func (s *SQLiteResults) UpsertQueryResult(ctx context.Context, rec model.QueryRecord) error {
	payload, err := json.Marshal(rec.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal query response")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ai_query_cache (`+queryRecordColumns+`)
		 VALUES (?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (commodity, timeframe, query_date) DO UPDATE SET
			query_response  = excluded.query_response,
			created_at      = excluded.created_at,
			expires_at      = excluded.expires_at,
			cache_hit_count = ai_query_cache.cache_hit_count + 1`,
		rec.Commodity, string(rec.Timeframe), sqliteDate(rec.QueryDate), string(payload),
		sqliteTime(rec.CreatedAt), sqliteTime(rec.ExpiresAt),
	)
	return eris.Wrap(err, "sqlite: upsert query result")
}

// LatestIntelligence returns the most recent intelligence row dated since or later.
func (s *SQLiteResults) LatestIntelligence(ctx context.Context, commodity string, since time.Time) (*model.Intelligence, error) {
	var (
		in                      model.Intelligence
		analysisDate, createdAt string
		trend, drivers          string
		priceStr, changeStr     sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT commodity, analysis_date, trend, key_drivers, current_price, price_unit,
		        price_change_pct, confidence_score, price_outlook, created_at
		 FROM ai_market_intelligence
		 WHERE commodity = ? AND analysis_date >= ?
		 ORDER BY analysis_date DESC LIMIT 1`,
		commodity, sqliteDate(since),
	).Scan(&in.Commodity, &analysisDate, &trend, &drivers, &priceStr, &in.PriceUnit,
		&changeStr, &in.ConfidenceScore, &in.PriceOutlook, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest intelligence")
	}

	in.Trend = model.ParseTrend(trend)
	if in.AnalysisDate, err = parseSQLiteDate(analysisDate); err != nil {
		return nil, err
	}
	if in.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if err := decodeStrings([]byte(drivers), &in.KeyDrivers); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode key drivers")
	}
	if in.CurrentPrice, err = parseOptionalDecimal(nullStringPtr(priceStr)); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse current price")
	}
	if in.PriceChangePct, err = parseOptionalDecimal(nullStringPtr(changeStr)); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse price change")
	}
	return &in, nil
}

// UpsertIntelligence replaces the row for (commodity, analysis_date).
func (s *SQLiteResults) UpsertIntelligence(ctx context.Context, in model.Intelligence) error {
	drivers, err := encodeStrings(in.KeyDrivers)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal key drivers")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ai_market_intelligence (commodity, analysis_date, trend, key_drivers, current_price,
		        price_unit, price_change_pct, confidence_score, price_outlook, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (commodity, analysis_date) DO UPDATE SET
			trend            = excluded.trend,
			key_drivers      = excluded.key_drivers,
			current_price    = excluded.current_price,
			price_unit       = excluded.price_unit,
			price_change_pct = excluded.price_change_pct,
			confidence_score = excluded.confidence_score,
			price_outlook    = excluded.price_outlook,
			created_at       = excluded.created_at`,
		in.Commodity, sqliteDate(in.AnalysisDate), string(in.Trend), string(drivers),
		optionalDecimal(in.CurrentPrice), in.PriceUnit, optionalDecimal(in.PriceChangePct),
		in.ConfidenceScore, in.PriceOutlook, sqliteTime(in.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: upsert intelligence")
}

// RecentNews returns up to limit items dated since or later, newest first.
func (s *SQLiteResults) RecentNews(ctx context.Context, commodity string, since time.Time, limit int) ([]model.StoredNews, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+newsColumns+` FROM ai_news_items
		 WHERE commodity = ? AND news_date >= ?
		 ORDER BY news_date DESC, news_id DESC LIMIT ?`,
		commodity, sqliteDate(since), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent news")
	}
	defer rows.Close()

	out := make([]model.StoredNews, 0)
	for rows.Next() {
		item, err := scanSQLiteNews(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: recent news")
}

// RecentNewsBatch groups news for commodities by name in a single query.
func (s *SQLiteResults) RecentNewsBatch(ctx context.Context, commodities []string, since time.Time) (map[string][]model.StoredNews, error) {
	out := make(map[string][]model.StoredNews, len(commodities))
	if len(commodities) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(commodities)), ", ")
	args := make([]any, 0, len(commodities)+1)
	for _, c := range commodities {
		args = append(args, c)
	}
	args = append(args, sqliteDate(since))

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+newsColumns+` FROM ai_news_items
		 WHERE commodity IN (`+placeholders+`) AND news_date >= ?
		 ORDER BY commodity, news_date DESC, news_id DESC`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent news batch")
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanSQLiteNews(rows)
		if err != nil {
			return nil, err
		}
		out[item.Commodity] = append(out[item.Commodity], item)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: recent news batch")
}

// InsertNews adds items and trims the commodity to its keep newest rows.
func (s *SQLiteResults) InsertNews(ctx context.Context, commodity string, items []model.StoredNews, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin news tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, item := range items {
		sources, err := encodeStrings(item.Sources)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal news sources")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ai_news_items (commodity, news_date, headline, summary, source_urls, sentiment, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			commodity, sqliteDate(item.NewsDate), item.Headline, item.Summary, string(sources),
			item.Sentiment, sqliteTime(item.CreatedAt),
		); err != nil {
			return eris.Wrap(err, "sqlite: insert news")
		}
	}
	if keep > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM ai_news_items
			 WHERE commodity = ? AND news_id NOT IN (
				SELECT news_id FROM ai_news_items WHERE commodity = ?
				ORDER BY news_date DESC, news_id DESC LIMIT ?
			 )`,
			commodity, commodity, keep,
		); err != nil {
			return eris.Wrap(err, "sqlite: prune news")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit news")
}

// DeleteQueryResults deletes records for commodity, or every record when it is empty.
func (s *SQLiteResults) DeleteQueryResults(ctx context.Context, commodity string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if commodity == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM ai_query_cache`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM ai_query_cache WHERE commodity = ?`, commodity)
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete query results")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteQueryRecord(row rowScanner) (*model.QueryRecord, error) {
	var (
		rec                           model.QueryRecord
		timeframe, queryDate, payload string
		createdAt, expiresAt          string
	)
	if err := row.Scan(&rec.Commodity, &timeframe, &queryDate, &payload, &rec.HitCount, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	rec.Timeframe = model.Timeframe(timeframe)

	var err error
	if rec.QueryDate, err = parseSQLiteDate(queryDate); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = parseSQLiteTime(expiresAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal query response")
	}
	return &rec, nil
}

func scanSQLiteNews(row rowScanner) (model.StoredNews, error) {
	var (
		item                         model.StoredNews
		newsDate, sources, createdAt string
	)
	if err := row.Scan(&item.ID, &item.Commodity, &newsDate, &item.Headline, &item.Summary,
		&sources, &item.Sentiment, &createdAt); err != nil {
		return model.StoredNews{}, eris.Wrap(err, "sqlite: scan news")
	}
	var err error
	if item.NewsDate, err = parseSQLiteDate(newsDate); err != nil {
		return model.StoredNews{}, err
	}
	if item.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return model.StoredNews{}, err
	}
	if err := decodeStrings([]byte(sources), &item.Sources); err != nil {
		return model.StoredNews{}, eris.Wrap(err, "sqlite: unmarshal news sources")
	}
	return item, nil
}

func sqliteDate(t time.Time) string {
	return model.DateOnly(t).Format(model.DateLayout)
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteDate(s string) (time.Time, error) {
	t, err := time.Parse(model.DateLayout, s)
	return t, eris.Wrapf(err, "sqlite: parse date %q", s)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
