package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"commodity-intel/internal/model"
)

const systemPrompt = "You are a commodity market analyst. Answer with current market data " +
	"and cite your sources. Respond with a single JSON object when asked for one."

// maxDomainFilter is the number of domains the search filter accepts.
const maxDomainFilter = 10

func buildPrompt(pc PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze %s market developments over the last %s.\n", pc.Commodity, pc.Timeframe)
	if pc.Sector != "" {
		fmt.Fprintf(&b, "Sector: %s.\n", pc.Sector)
	}
	if len(pc.Sources) > 0 {
		b.WriteString("Prefer these sources:\n")
		for _, s := range pc.Sources {
			fmt.Fprintf(&b, "- %s (%s)\n", s.Name, s.URL)
		}
	}
	fmt.Fprintf(&b, `
Reply with one JSON object using these keys:
  "commodity": %q,
  "current_price": latest price with unit, e.g. "USD 115/ton",
  "price_change": change over the period, e.g. "+2.5%%",
  "trend": one of "bullish", "bearish", "stable",
  "key_drivers": list of 3-4 short strings,
  "market_news": list of 3-4 objects with "date", "headline", "details",
      "category" (price|supply|demand|policy), "price_impact" (bullish|bearish|neutral),
      "metrics" {"value", "type"},
  "price_outlook": one sentence,
  "source_urls": full article URLs.
`, pc.Commodity)
	return b.String()
}

// domainFilter extracts unique hostnames from the trusted sources.
func domainFilter(sources []model.Source) []string {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		raw := strings.TrimSpace(s.URL)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
		if len(out) == maxDomainFilter {
			break
		}
	}
	return out
}
