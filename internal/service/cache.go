package service

import (
	"sync"
	"time"

	"commodity-intel/internal/model"
)

// CacheEntry is a read-only view of the cached full-set results for one timeframe.
type CacheEntry struct {
	AsOf      time.Time
	Timeframe model.Timeframe
	Results   []model.Result
}

// IsValid reports whether the entry was populated for the reference date.
func (e CacheEntry) IsValid(ref time.Time) bool {
	return !e.AsOf.IsZero() && e.AsOf.Equal(model.DateOnly(ref))
}

// DailyCache holds full-set results per timeframe under a single date stamp.
// Storing results for a new date drops every timeframe cached for the old one.
type DailyCache struct {
	mu      sync.RWMutex
	asOf    time.Time
	entries map[model.Timeframe][]model.Result
}

// NewDailyCache returns an empty cache.
func NewDailyCache() *DailyCache {
	return &DailyCache{entries: make(map[model.Timeframe][]model.Result)}
}

// Get returns a copy of the results cached for timeframe on ref.
func (c *DailyCache) Get(timeframe model.Timeframe, ref time.Time) ([]model.Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.asOf.IsZero() || !c.asOf.Equal(model.DateOnly(ref)) {
		return nil, false
	}
	results, ok := c.entries[timeframe]
	if !ok {
		return nil, false
	}
	return model.CloneResults(results), true
}

// Store replaces the entry for timeframe and stamps the cache with ref.
func (c *DailyCache) Store(timeframe model.Timeframe, ref time.Time, results []model.Result) {
	day := model.DateOnly(ref)
	copied := model.CloneResults(results)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.asOf.Equal(day) {
		c.entries = make(map[model.Timeframe][]model.Result)
		c.asOf = day
	}
	c.entries[timeframe] = copied
}

// Snapshot returns the entry for timeframe regardless of date.
func (c *DailyCache) Snapshot(timeframe model.Timeframe) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results, ok := c.entries[timeframe]
	if !ok {
		return CacheEntry{}, false
	}
	return CacheEntry{AsOf: c.asOf, Timeframe: timeframe, Results: model.CloneResults(results)}, true
}

// Clear empties the cache.
func (c *DailyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asOf = time.Time{}
	c.entries = make(map[model.Timeframe][]model.Result)
}
