package catalog

import (
	"context"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"commodity-intel/internal/model"
)

const (
	commoditiesKey  = "commodities"
	defaultCacheTTL = time.Hour
)

// Reference lists the tracked commodities, typically from the ticker reference table.
type Reference interface {
	ListCommodities(ctx context.Context) ([]model.Commodity, error)
}

// Catalog decorates reference commodities with their sector sources and caches the list.
type Catalog struct {
	ref     Reference
	sectors *Sectors
	cache   *cache.Cache
	logger  zerolog.Logger
}

// New builds a catalog. A ttl of zero uses one hour; sectors may be nil.
func New(ref Reference, sectors *Sectors, ttl time.Duration, logger zerolog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Catalog{
		ref:     ref,
		sectors: sectors,
		cache:   cache.New(ttl, 2*ttl),
		logger:  logger.With().Str("component", "catalog").Logger(),
	}
}

// Commodities returns the tracked commodities in reference order.
func (c *Catalog) Commodities(ctx context.Context) ([]model.Commodity, error) {
	if cached, found := c.cache.Get(commoditiesKey); found {
		return slices.Clone(cached.([]model.Commodity)), nil
	}
	if c.ref == nil {
		return nil, eris.New("commodity reference not configured")
	}

	list, err := c.ref.ListCommodities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list commodities")
	}
	for i := range list {
		if len(list[i].Sources) == 0 {
			list[i].Sources = c.sectors.SourcesFor(list[i].Sector)
		}
	}

	c.cache.Set(commoditiesKey, list, cache.DefaultExpiration)
	c.logger.Debug().Int("count", len(list)).Msg("commodity list refreshed")
	return slices.Clone(list), nil
}

// Invalidate drops the cached list.
func (c *Catalog) Invalidate() {
	c.cache.Delete(commoditiesKey)
}

// Static is a fixed commodity list.
type Static []model.Commodity

// ListCommodities returns a copy of the list.
func (s Static) ListCommodities(context.Context) ([]model.Commodity, error) {
	return slices.Clone([]model.Commodity(s)), nil
}

// Commodities satisfies the same contract as Catalog.Commodities.
func (s Static) Commodities(ctx context.Context) ([]model.Commodity, error) {
	return s.ListCommodities(ctx)
}
