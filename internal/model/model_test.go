package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCloneIsolatesNews(t *testing.T) {
	z := 2.4
	orig := Result{
		Commodity: "Iron Ore",
		Data: &Analysis{
			KeyDrivers: []string{"Restocking"},
			MarketNews: []NewsItem{{
				Headline: "Port inventories fall",
				Metrics:  &NewsMetrics{Value: "12%", Type: "percentage"},
				Sources:  []string{"https://www.mining.com/a"},
			}},
			ZScore: &z,
		},
	}

	cp := orig.Clone()
	require.NotNil(t, cp.Data)
	cp.Data.MarketNews[0].Metrics.Value = "99%"
	cp.Data.MarketNews[0].Sources[0] = "https://example.com"
	cp.Data.KeyDrivers[0] = "Destocking"
	*cp.Data.ZScore = -1

	news := orig.Data.MarketNews[0]
	assert.Equal(t, "12%", news.Metrics.Value)
	assert.Equal(t, "https://www.mining.com/a", news.Sources[0])
	assert.Equal(t, "Restocking", orig.Data.KeyDrivers[0])
	assert.InDelta(t, 2.4, *orig.Data.ZScore, 1e-9)
}

func TestResultCloneKeepsNilSlices(t *testing.T) {
	cp := Result{Data: &Analysis{}}.Clone()
	assert.Nil(t, cp.Data.MarketNews)
	assert.Nil(t, Result{}.Clone().Data)
}
