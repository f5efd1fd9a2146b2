package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification describes a commodity whose latest move crossed the alert threshold.
type Notification struct {
	RunID     string
	AsOf      time.Time
	Commodity string
	Ticker    string
	Sector    string
	Timeframe string
	ZScore    decimal.Decimal
	Threshold decimal.Decimal
	Flag      string
	Frequency string
	Trend     string
	Price     string
	Change    string
	Outlook   string
	Channels  []string
}

// Direction is "up" or "down" following the sign of the z-score.
func (n Notification) Direction() string {
	switch n.ZScore.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}

// Notifier delivers anomaly notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier. An empty baseURL uses the public API.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().
		Str("commodity", note.Commodity).
		Str("zscore", note.ZScore.StringFixed(2)).
		Str("direction", note.Direction()).
		Msg("anomaly alert sent")
	return nil
}

// LogNotifier writes notifications to the log. Used when no chat channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("run_id", note.RunID).
		Str("commodity", note.Commodity).
		Str("zscore", note.ZScore.StringFixed(2)).
		Str("flag", note.Flag).
		Str("trend", note.Trend).
		Msg("commodity anomaly")
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Commodity Alert] %s", note.Commodity)
	if note.Ticker != "" {
		fmt.Fprintf(&b, " (%s)", note.Ticker)
	}
	b.WriteString("\n")
	if !note.AsOf.IsZero() {
		fmt.Fprintf(&b, "As of: %s\n", note.AsOf.UTC().Format("2006-01-02"))
	}
	if note.Sector != "" {
		fmt.Fprintf(&b, "Sector: %s\n", note.Sector)
	}
	fmt.Fprintf(&b, "Z-score: %s (threshold %s, %s)\n", note.ZScore.StringFixed(2), note.Threshold.StringFixed(2), note.Direction())
	if note.Flag != "" {
		fmt.Fprintf(&b, "Flag: %s\n", note.Flag)
	}
	if note.Frequency != "" {
		fmt.Fprintf(&b, "Cadence: %s\n", note.Frequency)
	}
	if note.Trend != "" {
		fmt.Fprintf(&b, "Trend: %s\n", note.Trend)
	}
	if note.Price != "" {
		price := note.Price
		if note.Change != "" {
			price += " (" + note.Change + ")"
		}
		fmt.Fprintf(&b, "Price: %s\n", price)
	}
	if note.Outlook != "" {
		fmt.Fprintf(&b, "Outlook: %s\n", note.Outlook)
	}
	if len(note.Channels) > 0 {
		fmt.Fprintf(&b, "Channels: %s\n", strings.Join(note.Channels, ","))
	}
	return b.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
