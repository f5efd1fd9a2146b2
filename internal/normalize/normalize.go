package normalize

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"commodity-intel/internal/apperr"
	"commodity-intel/internal/model"
)

const notAvailable = "N/A"

var (
	pricePattern  = regexp.MustCompile(`(?i)(?:USD?|US\$?)\s*[\d,]+(?:\.\d+)?(?:/\w+)?`)
	changePattern = regexp.MustCompile(`[+-]?\d+(?:\.\d+)?%`)
	outletPattern = regexp.MustCompile(`(?i)(?:Reuters|Bloomberg|Mining\.com|Trading Economics|SteelOrbis|Platts|Argus|FastMarkets)`)

	newsVerbs     = []string{"announced", "reported", "rose", "fell", "increased", "decreased"}
	bulletMarkers = []string{"•", "-", "*", "1.", "2.", "3."}
)

type flexString string

// UnmarshalJSON accepts strings and bare numbers.
func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(b))
	return nil
}

type flexMetrics struct {
	value *model.NewsMetrics
}

// UnmarshalJSON accepts either a {value,type} object or a plain string.
func (m *flexMetrics) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		m.value = nil
	case b[0] == '{':
		var v struct {
			Value flexString `json:"value"`
			Type  string     `json:"type"`
		}
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		m.value = &model.NewsMetrics{Value: string(v.Value), Type: v.Type}
	default:
		var s flexString
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s != "" {
			m.value = &model.NewsMetrics{Value: string(s)}
		}
	}
	return nil
}

type newsPayload struct {
	Date        string      `json:"date"`
	Headline    string      `json:"headline"`
	Details     string      `json:"details"`
	Category    string      `json:"category"`
	PriceImpact string      `json:"price_impact"`
	Metrics     flexMetrics `json:"metrics"`
	Sources     []string    `json:"sources"`
}

type payload struct {
	Commodity    string        `json:"commodity"`
	CurrentPrice flexString    `json:"current_price"`
	PriceChange  flexString    `json:"price_change"`
	Trend        string        `json:"trend"`
	KeyDrivers   []string      `json:"key_drivers"`
	MarketNews   []newsPayload `json:"market_news"`
	RecentNews   []string      `json:"recent_news"`
	PriceOutlook string        `json:"price_outlook"`
	SourceURLs   []string      `json:"source_urls"`
	Sources      []string      `json:"sources"`
}

// ExtractJSON returns the first JSON object found in content: the whole
// payload when it parses, otherwise the first balanced brace block that does.
func ExtractJSON(content string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, false
	}
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), true
	}

	for start := strings.IndexByte(trimmed, '{'); start >= 0; {
		if end := matchBrace(trimmed, start); end > start {
			candidate := trimmed[start : end+1]
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), true
			}
		}
		next := strings.IndexByte(trimmed[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBrace finds the index of the brace closing the one at start, skipping
// braces inside string literals. It returns -1 when unbalanced.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Normalize converts raw service output into an Analysis. When no structured
// payload can be found the heuristic record is returned together with a parse error.
func Normalize(content string, citations []string) (model.Analysis, error) {
	if raw, ok := ExtractJSON(content); ok {
		var p payload
		if err := json.Unmarshal(raw, &p); err == nil {
			return fromPayload(p, citations), nil
		}
	}

	analysis := heuristic(content, citations)
	err := apperr.New(apperr.KindParse, "normalize", "no structured payload in response; heuristic extraction used")
	analysis.ParseError = err.Error()
	return analysis, err
}

func fromPayload(p payload, citations []string) model.Analysis {
	a := model.Analysis{
		Commodity:    p.Commodity,
		CurrentPrice: orNA(string(p.CurrentPrice)),
		PriceChange:  orNA(string(p.PriceChange)),
		Trend:        model.ParseTrend(p.Trend),
		KeyDrivers:   nonEmpty(p.KeyDrivers),
		MarketNews:   make([]model.NewsItem, 0, len(p.MarketNews)),
		PriceOutlook: strings.TrimSpace(p.PriceOutlook),
	}

	for _, n := range p.MarketNews {
		if strings.TrimSpace(n.Headline) == "" {
			continue
		}
		a.MarketNews = append(a.MarketNews, model.NewsItem{
			Date:        strings.TrimSpace(n.Date),
			Headline:    strings.TrimSpace(n.Headline),
			Details:     strings.TrimSpace(n.Details),
			Category:    strings.TrimSpace(n.Category),
			PriceImpact: strings.TrimSpace(n.PriceImpact),
			Metrics:     n.Metrics.value,
			Sources:     n.Sources,
		})
	}

	if len(a.MarketNews) > 0 {
		a.RecentNews = RecentNews(a.MarketNews)
	} else {
		a.RecentNews = nonEmpty(p.RecentNews)
	}

	switch {
	case len(p.SourceURLs) > 0:
		a.SourceURLs = uniqueStrings(p.SourceURLs)
	case len(p.Sources) > 0:
		a.SourceURLs = uniqueStrings(p.Sources)
	default:
		a.SourceURLs = uniqueStrings(citations)
	}
	return a
}

// RecentNews flattens structured news into "date: headline" lines, noting
// non-neutral price impact.
func RecentNews(items []model.NewsItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		line := item.Headline
		if item.Date != "" {
			line = item.Date + ": " + item.Headline
		}
		impact := strings.TrimSpace(item.PriceImpact)
		if impact != "" && !strings.EqualFold(impact, "neutral") {
			line += " (impact: " + impact + ")"
		}
		out = append(out, line)
	}
	return out
}

func heuristic(content string, citations []string) model.Analysis {
	a := model.Analysis{
		CurrentPrice: orNA(pricePattern.FindString(content)),
		PriceChange:  orNA(changePattern.FindString(content)),
		Trend:        detectTrend(content),
		KeyDrivers:   extractDrivers(content),
		MarketNews:   []model.NewsItem{},
		RecentNews:   extractNews(content),
		RawResponse:  content,
	}
	if len(citations) > 0 {
		a.SourceURLs = uniqueStrings(citations)
	} else {
		a.SourceURLs = uniqueStrings(outletPattern.FindAllString(content, -1))
	}
	return a
}

func detectTrend(content string) model.Trend {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "bullish"):
		return model.TrendBullish
	case strings.Contains(lower, "bearish"):
		return model.TrendBearish
	case strings.Contains(lower, "stable"), strings.Contains(lower, "neutral"):
		return model.TrendStable
	default:
		return model.TrendUnknown
	}
}

func extractDrivers(content string) []string {
	drivers := []string{}
	for _, line := range strings.Split(content, "\n") {
		head := line
		if len(head) > 5 {
			head = head[:5]
		}
		for _, marker := range bulletMarkers {
			if strings.Contains(head, marker) {
				if d := strings.Trim(line, " •-*123.\t\r"); d != "" {
					drivers = append(drivers, d)
				}
				break
			}
		}
		if len(drivers) == 4 {
			break
		}
	}
	return drivers
}

func extractNews(content string) []string {
	var news []string
	for _, line := range strings.Split(content, "\n") {
		if len(line) <= 50 {
			continue
		}
		lower := strings.ToLower(line)
		for _, verb := range newsVerbs {
			if strings.Contains(lower, verb) {
				news = append(news, strings.TrimSpace(line))
				break
			}
		}
		if len(news) == 3 {
			break
		}
	}
	return news
}

func orNA(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return notAvailable
	}
	return s
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func uniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
