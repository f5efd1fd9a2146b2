package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"commodity-intel/internal/apperr"
	"commodity-intel/internal/model"
	"commodity-intel/internal/service"
)

type analysisResponse struct {
	Timeframe     model.Timeframe `json:"timeframe"`
	ReferenceDate string          `json:"reference_date"`
	Results       []model.Result  `json:"results"`
}

type zscoresResponse struct {
	AsOf    string                `json:"as_of"`
	ZScores []service.ZScoreEntry `json:"zscores"`
}

type cacheStatus struct {
	AsOf    string `json:"as_of"`
	Results int    `json:"results"`
}

func (s *Server) health(c *gin.Context) {
	cache := make(map[model.Timeframe]cacheStatus)
	for _, tf := range model.Timeframes() {
		if entry, ok := s.orch.CacheSnapshot(tf); ok {
			cache[tf] = cacheStatus{AsOf: entry.AsOf.Format(model.DateLayout), Results: len(entry.Results)}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"result_store": s.orch.Store().Access(),
		"rate_limiter": s.orch.Limiter().Name(),
		"price_store":  s.prices != nil,
		"cache":        cache,
	})
}

// analysis runs a batch query. Query parameters: timeframe, commodities
// (comma separated names or tickers) and force.
func (s *Server) analysis(c *gin.Context) {
	ctx := c.Request.Context()
	tf := timeframeParam(c)
	force := boolParam(c, "force")

	var names []string
	for _, n := range strings.Split(c.Query("commodities"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}

	entries, asOf, err := s.latestZScores(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	results, err := s.orch.QueryAll(ctx, service.Request{
		Commodities:   names,
		Timeframe:     tf,
		ReferenceDate: asOf,
		ZScores:       zscoreMap(entries),
		ForceRefresh:  force,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, analysisResponse{
		Timeframe:     tf,
		ReferenceDate: asOf.Format(model.DateLayout),
		Results:       results,
	})
}

func (s *Server) commodityAnalysis(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("commodity")

	entries, asOf, err := s.latestZScores(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	var z *float64
	for _, e := range entries {
		if strings.EqualFold(e.Commodity, name) || strings.EqualFold(e.Ticker, name) {
			v := e.ZScore
			z = &v
			break
		}
	}

	res, err := s.orch.QuerySingle(ctx, service.SingleRequest{
		Commodity:     name,
		Timeframe:     timeframeParam(c),
		ReferenceDate: asOf,
		ZScore:        z,
		ForceRefresh:  boolParam(c, "force"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if res.ErrorKind == apperr.KindValidation.String() {
		status = http.StatusNotFound
	}
	c.JSON(status, res)
}

func (s *Server) categories(c *gin.Context) {
	cats, err := s.orch.Categories(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

func (s *Server) zscores(c *gin.Context) {
	if s.prices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price store not configured"})
		return
	}
	entries, asOf, err := s.latestZScores(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, zscoresResponse{AsOf: asOf.Format(model.DateLayout), ZScores: entries})
}

func (s *Server) rateLimit(c *gin.Context) {
	limiter := s.orch.Limiter()
	c.JSON(http.StatusOK, gin.H{
		"name":    limiter.Name(),
		"tiers":   limiter.Stats(),
		"wait_ms": limiter.WaitTime().Milliseconds(),
	})
}

// latestZScores returns nil entries when no price store is wired.
func (s *Server) latestZScores(ctx context.Context) ([]service.ZScoreEntry, time.Time, error) {
	asOf := model.DateOnly(s.opts.Now())
	if s.prices == nil {
		return nil, asOf, nil
	}
	commodities, err := s.source.Commodities(ctx)
	if err != nil {
		return nil, asOf, err
	}
	if latest, err := s.prices.LatestPriceDate(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("latest price date unavailable")
	} else if !latest.IsZero() {
		asOf = model.DateOnly(latest)
	}
	return service.LatestZScores(ctx, s.prices, commodities, s.opts.ZScore, asOf, s.logger), asOf, nil
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindRateLimitTimeout:
		status = http.StatusTooManyRequests
	case apperr.KindExternalService, apperr.KindStoreAccess:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": apperr.KindOf(err).String()})
}

func zscoreMap(entries []service.ZScoreEntry) map[string]float64 {
	if entries == nil {
		return nil
	}
	out := make(map[string]float64, len(entries))
	for _, e := range entries {
		out[e.Commodity] = e.ZScore
	}
	return out
}

func timeframeParam(c *gin.Context) model.Timeframe {
	return model.Timeframe(c.DefaultQuery("timeframe", string(model.TimeframeWeek)))
}

func boolParam(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.DefaultQuery(key, "false"))
	return err == nil && v
}
