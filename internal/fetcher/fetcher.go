package fetcher

import (
	"context"

	"commodity-intel/internal/model"
)

// PromptContext carries what the analyst needs to know about one commodity.
type PromptContext struct {
	Commodity string
	Ticker    string
	Sector    string
	Timeframe model.Timeframe
	Sources   []model.Source
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the raw answer of an external analyst.
type Response struct {
	Content   string
	Citations []string
	Model     string
	Usage     Usage
}

// Analyst produces a market analysis for a commodity from an external AI service.
type Analyst interface {
	Query(ctx context.Context, pc PromptContext) (*Response, error)
}
