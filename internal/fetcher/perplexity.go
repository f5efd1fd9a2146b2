package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"commodity-intel/internal/apperr"
)

const (
	chatCompletionsPath   = "/chat/completions"
	defaultPerplexityBase = "https://api.perplexity.ai"
	defaultModel          = "sonar"
	defaultTemperature    = 0.2
	defaultMaxTokens      = 4000
	defaultRequestTimeout = 30 * time.Second
)

var errMalformedResponse = errors.New("malformed response")

// PerplexityOptions parameterise the Perplexity chat-completions client.
type PerplexityOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	UserAgent   string
	Retry       RetryConfig
}

// Perplexity queries the Perplexity chat-completions API.
type Perplexity struct {
	opts    PerplexityOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

var _ Analyst = (*Perplexity)(nil)

// NewPerplexity constructs the client. A missing API key is a configuration error.
func NewPerplexity(opts PerplexityOptions, logger zerolog.Logger) (*Perplexity, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, apperr.New(apperr.KindExternalService, "perplexity", "perplexity.api_key is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultPerplexityBase
	}

	return &Perplexity{
		opts:    opts,
		logger:  logger.With().Str("component", "perplexity").Logger(),
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: baseURL,
	}, nil
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("perplexity api error (%d)", e.Status)
	}
	return fmt.Sprintf("perplexity api error (%d): %s", e.Status, e.Message)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	switch e.Status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Query asks for an analysis of pc.Commodity and returns the raw completion.
func (p *Perplexity) Query(ctx context.Context, pc PromptContext) (*Response, error) {
	reqPayload := chatRequest{
		Model: p.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(pc)},
		},
		Temperature:        p.opts.Temperature,
		MaxTokens:          p.opts.MaxTokens,
		SearchDomainFilter: domainFilter(pc.Sources),
	}
	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalService, "perplexity", eris.Wrap(err, "marshal request"))
	}

	onRetry := func(attempt int, err error) {
		p.logger.Warn().Err(err).Int("attempt", attempt).Str("commodity", pc.Commodity).Msg("retrying perplexity request")
	}
	resp, err := doWithRetry(ctx, p.opts.Retry, isTransient, onRetry, func(ctx context.Context) (*Response, error) {
		return p.do(ctx, body)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalService, "perplexity", err)
	}

	p.logger.Debug().
		Str("commodity", pc.Commodity).
		Str("model", resp.Model).
		Int("tokens", resp.Usage.TotalTokens).
		Int("citations", len(resp.Citations)).
		Msg("perplexity query completed")
	return resp, nil
}

func (p *Perplexity) do(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", errMalformedResponse, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", errMalformedResponse)
	}

	citations := out.Citations
	if len(citations) == 0 {
		for _, r := range out.SearchResults {
			if r.URL != "" {
				citations = append(citations, r.URL)
			}
		}
	}

	return &Response{
		Content:   out.Choices[0].Message.Content,
		Citations: citations,
		Model:     out.Model,
		Usage:     out.Usage,
	}, nil
}

// isTransient covers transport failures and retryable statuses. Caller
// cancellation is handled by the retry loop through ctx.Err.
func isTransient(err error) bool {
	if errors.Is(err, errMalformedResponse) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model              string        `json:"model"`
	Messages           []chatMessage `json:"messages"`
	Temperature        float64       `json:"temperature"`
	MaxTokens          int           `json:"max_tokens"`
	SearchDomainFilter []string      `json:"search_domain_filter,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Citations     []string `json:"citations"`
	SearchResults []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"search_results"`
	Usage Usage `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Error.Message != "":
			return &StatusError{Status: status, Message: apiErr.Error.Message}
		case apiErr.Detail != "":
			return &StatusError{Status: status, Message: apiErr.Detail}
		case apiErr.Message != "":
			return &StatusError{Status: status, Message: apiErr.Message}
		case apiErr.Error.Type != "":
			return &StatusError{Status: status, Message: apiErr.Error.Type}
		}
	}
	msg := strings.TrimSpace(string(payload))
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return &StatusError{Status: status, Message: msg}
}
