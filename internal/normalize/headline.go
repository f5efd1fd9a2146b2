package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	datePrefixPattern = regexp.MustCompile(`^(\w+\s+\d+):\s*(.+)`)
	sentencePattern   = regexp.MustCompile(`^([^.!?]+[.!?])`)
	hasDatePattern    = regexp.MustCompile(`(?i)\b\d{4}\b|\b(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\b`)

	amountPattern = regexp.MustCompile(`(\d[\d,]*\.?\d*)`)
	unitPattern   = regexp.MustCompile(`/(\w+)`)
	pctPattern    = regexp.MustCompile(`([+-]?\d+\.?\d*)%`)
)

// Headline derives a short headline from free news text such as
// "Jan 18: China announced ...". The date prefix is kept when it fits.
func Headline(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if maxLen <= 0 {
		maxLen = 100
	}

	prefix := ""
	body := text
	if m := datePrefixPattern.FindStringSubmatch(text); m != nil {
		prefix, body = m[1], m[2]
	}
	if m := sentencePattern.FindStringSubmatch(body); m != nil {
		body = m[1]
	}

	headline := capitalize(strings.Join(strings.Fields(body), " "))
	if utf8.RuneCountInString(headline) > maxLen {
		headline = truncateWords(headline, maxLen)
	}

	if prefix != "" && utf8.RuneCountInString(headline) < maxLen-len(prefix)-2 && !hasDatePattern.MatchString(headline) {
		headline = prefix + ": " + headline
	}
	return headline
}

func truncateWords(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	cut := string(runes[:maxLen-3])
	if idx := strings.LastIndexByte(cut, ' '); idx > int(float64(maxLen)*0.7) {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// ParsePrice extracts the numeric amount and a "USD/<unit>" label from text
// like "USD 105.30/ton".
func ParsePrice(text string) (*decimal.Decimal, string) {
	var unit string
	if m := unitPattern.FindStringSubmatch(text); m != nil {
		unit = "USD/" + m[1]
	}
	m := amountPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, unit
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return nil, unit
	}
	return &amount, unit
}

// ParseChangePct extracts a signed percentage such as "+2.5%".
func ParseChangePct(text string) *decimal.Decimal {
	m := pctPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	pct, err := decimal.NewFromString(strings.TrimPrefix(m[1], "+"))
	if err != nil {
		return nil
	}
	return &pct
}
