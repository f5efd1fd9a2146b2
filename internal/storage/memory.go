package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"commodity-intel/internal/model"
)

type intelligenceKey struct {
	commodity string
	date      time.Time
}

// MemoryResults keeps results in process memory. Access flags are fixed at construction.
type MemoryResults struct {
	mu           sync.Mutex
	access       Access
	records      map[Key]model.QueryRecord
	intelligence map[intelligenceKey]model.Intelligence
	news         []model.StoredNews
	nextNewsID   int64
}

var _ Backend = (*MemoryResults)(nil)

// NewMemoryResults creates an empty in-memory backend reporting access.
func NewMemoryResults(access Access) *MemoryResults {
	return &MemoryResults{
		access:       access,
		records:      make(map[Key]model.QueryRecord),
		intelligence: make(map[intelligenceKey]model.Intelligence),
	}
}

// NewWritableMemoryResults creates a backend with full access.
func NewWritableMemoryResults() *MemoryResults {
	return NewMemoryResults(Access{TablesExist: true, Read: true, Write: true})
}

func memKey(k Key) Key {
	return Key{Commodity: k.Commodity, Timeframe: k.Timeframe, Date: model.DateOnly(k.Date)}
}

func (m *MemoryResults) ProbeAccess(context.Context) Access {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access
}

func (m *MemoryResults) GetQueryResult(_ context.Context, key Key, now time.Time) (*model.QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[memKey(key)]
	if !ok || rec.Expired(now) {
		return nil, nil
	}
	rec.Result = rec.Result.Clone()
	return &rec, nil
}

func (m *MemoryResults) LatestQueryResult(_ context.Context, commodity string, timeframe model.Timeframe, since, now time.Time) (*model.QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	since = model.DateOnly(since)

	var best *model.QueryRecord
	for k, rec := range m.records {
		if k.Commodity != commodity || k.Timeframe != timeframe || k.Date.Before(since) || rec.Expired(now) {
			continue
		}
		if best == nil || rec.QueryDate.After(best.QueryDate) ||
			(rec.QueryDate.Equal(best.QueryDate) && rec.CreatedAt.After(best.CreatedAt)) {
			r := rec
			best = &r
		}
	}
	if best != nil {
		best.Result = best.Result.Clone()
	}
	return best, nil
}

func (m *MemoryResults) IncrementHits(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(key)
	if rec, ok := m.records[k]; ok {
		rec.HitCount++
		m.records[k] = rec
	}
	return nil
}

func (m *MemoryResults) UpsertQueryResult(_ context.Context, rec model.QueryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(Key{Commodity: rec.Commodity, Timeframe: rec.Timeframe, Date: rec.QueryDate})
	rec.QueryDate = k.Date
	rec.Result = rec.Result.Clone()
	rec.HitCount = 0
	if prev, ok := m.records[k]; ok {
		rec.HitCount = prev.HitCount + 1
	}
	m.records[k] = rec
	return nil
}

func (m *MemoryResults) LatestIntelligence(_ context.Context, commodity string, since time.Time) (*model.Intelligence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	since = model.DateOnly(since)

	var best *model.Intelligence
	for k, in := range m.intelligence {
		if k.commodity != commodity || k.date.Before(since) {
			continue
		}
		if best == nil || in.AnalysisDate.After(best.AnalysisDate) {
			v := in
			best = &v
		}
	}
	if best != nil {
		best.KeyDrivers = slices.Clone(best.KeyDrivers)
	}
	return best, nil
}

func (m *MemoryResults) UpsertIntelligence(_ context.Context, in model.Intelligence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in.AnalysisDate = model.DateOnly(in.AnalysisDate)
	in.KeyDrivers = slices.Clone(in.KeyDrivers)
	m.intelligence[intelligenceKey{commodity: in.Commodity, date: in.AnalysisDate}] = in
	return nil
}

func (m *MemoryResults) RecentNews(_ context.Context, commodity string, since time.Time, limit int) ([]model.StoredNews, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.newsFor(commodity, model.DateOnly(since))
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryResults) RecentNewsBatch(_ context.Context, commodities []string, since time.Time) (map[string][]model.StoredNews, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	since = model.DateOnly(since)
	out := make(map[string][]model.StoredNews, len(commodities))
	for _, c := range commodities {
		if items := m.newsFor(c, since); len(items) > 0 {
			out[c] = items
		}
	}
	return out, nil
}

// newsFor returns matching rows newest first. Callers hold mu.
func (m *MemoryResults) newsFor(commodity string, since time.Time) []model.StoredNews {
	out := make([]model.StoredNews, 0)
	for _, item := range m.news {
		if item.Commodity == commodity && !item.NewsDate.Before(since) {
			item.Sources = slices.Clone(item.Sources)
			out = append(out, item)
		}
	}
	sortNewestFirst(out)
	return out
}

func (m *MemoryResults) InsertNews(_ context.Context, commodity string, items []model.StoredNews, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.nextNewsID++
		item.ID = m.nextNewsID
		item.Commodity = commodity
		item.NewsDate = model.DateOnly(item.NewsDate)
		item.Sources = slices.Clone(item.Sources)
		m.news = append(m.news, item)
	}
	if keep <= 0 {
		return nil
	}

	mine := m.newsFor(commodity, time.Time{})
	if len(mine) <= keep {
		return nil
	}
	retained := make(map[int64]struct{}, keep)
	for _, item := range mine[:keep] {
		retained[item.ID] = struct{}{}
	}
	m.news = slices.DeleteFunc(m.news, func(item model.StoredNews) bool {
		if item.Commodity != commodity {
			return false
		}
		_, ok := retained[item.ID]
		return !ok
	})
	return nil
}

func (m *MemoryResults) DeleteQueryResults(_ context.Context, commodity string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.records {
		if commodity == "" || k.Commodity == commodity {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryResults) Migrate(context.Context) error { return nil }

func (m *MemoryResults) Close() error { return nil }

func sortNewestFirst(items []model.StoredNews) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].NewsDate.Equal(items[j].NewsDate) {
			return items[i].NewsDate.After(items[j].NewsDate)
		}
		return items[i].ID > items[j].ID
	})
}
