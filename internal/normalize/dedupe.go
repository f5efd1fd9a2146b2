package normalize

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"commodity-intel/internal/model"
)

// DefaultSimilarity is the headline ratio above which two items are duplicates.
const DefaultSimilarity = 0.7

// Similarity returns the SequenceMatcher ratio of two strings compared per character.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	return difflib.NewMatcher(chars(a), chars(b)).Ratio()
}

// Dedupe keeps the first of any group of items whose lowercased headlines are
// more similar than threshold. Items without a headline are dropped.
func Dedupe(items []model.NewsItem, threshold float64) []model.NewsItem {
	if threshold <= 0 {
		threshold = DefaultSimilarity
	}
	out := make([]model.NewsItem, 0, len(items))
	seen := make([]string, 0, len(items))
	for _, item := range items {
		headline := strings.ToLower(strings.TrimSpace(item.Headline))
		if headline == "" {
			continue
		}
		if IsDuplicate(headline, seen, threshold) {
			continue
		}
		seen = append(seen, headline)
		out = append(out, item)
	}
	return out
}

// IsDuplicate reports whether headline is more similar than threshold to any of
// kept. Comparison is case-insensitive.
func IsDuplicate(headline string, kept []string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultSimilarity
	}
	headline = strings.ToLower(strings.TrimSpace(headline))
	for _, prev := range kept {
		if Similarity(headline, strings.ToLower(strings.TrimSpace(prev))) > threshold {
			return true
		}
	}
	return false
}

func chars(s string) []string {
	runes := []rune(s)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}
