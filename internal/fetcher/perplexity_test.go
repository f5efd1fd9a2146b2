package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commodity-intel/internal/apperr"
	"commodity-intel/internal/model"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
}

func newTestPerplexity(t *testing.T, url string) *Perplexity {
	t.Helper()
	p, err := NewPerplexity(PerplexityOptions{
		APIKey:  "test-key",
		BaseURL: url,
		Timeout: time.Second,
		Retry:   fastRetry(),
	}, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestNewPerplexityRequiresKey(t *testing.T) {
	_, err := NewPerplexity(PerplexityOptions{}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExternalService))
}

func TestPerplexityQuerySuccess(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "abc",
			"model": "sonar",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": `{"trend":"bullish"}`}},
			},
			"citations": []string{"https://www.reuters.com/x"},
			"usage":     map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	}))
	defer srv.Close()

	resp, err := newTestPerplexity(t, srv.URL).Query(context.Background(), PromptContext{
		Commodity: "Iron Ore",
		Timeframe: model.TimeframeWeek,
		Sector:    "Steel Raw Materials",
		Sources: []model.Source{
			{Name: "Reuters", URL: "https://www.reuters.com/markets/commodities"},
			{Name: "Mining.com", URL: "mining.com"},
			{Name: "Reuters again", URL: "https://reuters.com"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"trend":"bullish"}`, resp.Content)
	assert.Equal(t, []string{"https://www.reuters.com/x"}, resp.Citations)
	assert.Equal(t, 30, resp.Usage.TotalTokens)

	assert.Equal(t, "sonar", got.Model)
	assert.Equal(t, 0.2, got.Temperature)
	assert.Equal(t, 4000, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "Iron Ore")
	assert.Contains(t, got.Messages[1].Content, "1 week")
	assert.Equal(t, []string{"reuters.com", "mining.com"}, got.SearchDomainFilter)
}

func TestPerplexityRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	resp, err := newTestPerplexity(t, srv.URL).Query(context.Background(), PromptContext{Commodity: "Coking Coal"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.EqualValues(t, 3, calls.Load())
}

func TestPerplexityGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestPerplexity(t, srv.URL).Query(context.Background(), PromptContext{Commodity: "Coking Coal"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExternalService))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestPerplexityDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	_, err := newTestPerplexity(t, srv.URL).Query(context.Background(), PromptContext{Commodity: "Iron Ore"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.EqualValues(t, 1, calls.Load())
}

func TestPerplexityMalformedBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	_, err := newTestPerplexity(t, srv.URL).Query(context.Background(), PromptContext{Commodity: "Iron Ore"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExternalService))
	assert.EqualValues(t, 1, calls.Load())
}

func TestPerplexityCitationsFallBackToSearchResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices":        []map[string]any{{"message": map[string]string{"content": "x"}}},
			"search_results": []map[string]string{{"title": "a", "url": "https://mining.com/a"}, {"title": "b"}},
		})
	}))
	defer srv.Close()

	resp, err := newTestPerplexity(t, srv.URL).Query(context.Background(), PromptContext{Commodity: "Iron Ore"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://mining.com/a"}, resp.Citations)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	_, err := doWithRetry(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour}, func(error) bool { return true }, nil,
		func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, errors.New("boom")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestComputeBackoffCapped(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 2}.withDefaults()
	assert.Equal(t, time.Second, computeBackoff(0, cfg))
	assert.Equal(t, 2*time.Second, computeBackoff(1, cfg))
	assert.Equal(t, 3*time.Second, computeBackoff(5, cfg))
}
