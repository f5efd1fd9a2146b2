package storage

import (
	"context"
	"errors"
	"time"

	"commodity-intel/internal/apperr"
	"commodity-intel/internal/model"
)

const (
	queryCacheTable   = "ai_query_cache"
	intelligenceTable = "ai_market_intelligence"
	newsTable         = "ai_news_items"
)

var resultTables = []string{queryCacheTable, intelligenceTable, newsTable}

var (
	// ErrNoWriteAccess is returned by write operations when the access probe failed.
	ErrNoWriteAccess = &apperr.Error{Kind: apperr.KindStoreAccess, Op: "storage", Err: errors.New("no write access to result store")}
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = &apperr.Error{Kind: apperr.KindStoreAccess, Op: "storage", Err: errors.New("storage not configured")}
)

// Access is the outcome of the startup capability probe.
type Access struct {
	TablesExist bool   `json:"tables_exist"`
	Read        bool   `json:"read"`
	Write       bool   `json:"write"`
	Reason      string `json:"reason,omitempty"`
}

// Key addresses one persisted analysis.
type Key struct {
	Commodity string
	Timeframe model.Timeframe
	Date      time.Time
}

// Backend is the capability set a result store implementation provides.
type Backend interface {
	ProbeAccess(ctx context.Context) Access
	GetQueryResult(ctx context.Context, key Key, now time.Time) (*model.QueryRecord, error)
	LatestQueryResult(ctx context.Context, commodity string, timeframe model.Timeframe, since, now time.Time) (*model.QueryRecord, error)
	IncrementHits(ctx context.Context, key Key) error
	UpsertQueryResult(ctx context.Context, rec model.QueryRecord) error
	LatestIntelligence(ctx context.Context, commodity string, since time.Time) (*model.Intelligence, error)
	UpsertIntelligence(ctx context.Context, in model.Intelligence) error
	RecentNews(ctx context.Context, commodity string, since time.Time, limit int) ([]model.StoredNews, error)
	RecentNewsBatch(ctx context.Context, commodities []string, since time.Time) (map[string][]model.StoredNews, error)
	InsertNews(ctx context.Context, commodity string, items []model.StoredNews, keep int) error
	DeleteQueryResults(ctx context.Context, commodity string) (int64, error)
	Migrate(ctx context.Context) error
	Close() error
}
