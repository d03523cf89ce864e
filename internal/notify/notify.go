// Package notify alerts a Telegram chat when a provider run looks like a real outage.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ppiankov/outagelens/internal/model"
	"go.uber.org/zap"
)

// Sender delivers one HTML-formatted message
type Sender interface {
	SendHTML(ctx context.Context, chatID int64, htmlText string) (int, error)
}

// TelegramSender implements Sender using tgbotapi
type TelegramSender struct {
	api *tgbotapi.BotAPI
}

// NewTelegramSender connects to the Bot API with token
func NewTelegramSender(token string) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSender{api: api}, nil
}

// SendHTML sends an HTML-formatted message and returns its id
func (s *TelegramSender) SendHTML(ctx context.Context, chatID int64, htmlText string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, htmlText)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	resp, err := s.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return resp.MessageID, nil
}

// Reason says why an alert fired
type Reason string

const (
	ReasonScore   Reason = "score"   // Best combined score crossed the threshold
	ReasonTracker Reason = "tracker" // Outage tracker count crossed the provider's alert count
)

// Alert is one notification about one provider
type Alert struct {
	Provider model.Provider
	Reason   Reason
	Score    float64
	Count    int
	Report   *model.Report
	Window   string // Label of the first matched window, if any
}

// Key identifies an alert so repeated runs over the same evidence stay quiet
func (a Alert) Key() string {
	ts := int64(0)
	if a.Report != nil {
		ts = a.Report.Timestamp
	}
	return fmt.Sprintf("%s/%s/%d/%d", a.Provider, a.Reason, ts, a.Count)
}

// Notifier decides which results deserve an alert and sends them once
type Notifier struct {
	sender    Sender
	chatID    int64
	threshold float64
	logger    *zap.Logger

	mu   sync.Mutex
	sent map[string]bool
}

// NewNotifier creates a notifier. threshold <= 0 disables score alerts.
func NewNotifier(sender Sender, chatID int64, threshold float64, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		sender:    sender,
		chatID:    chatID,
		threshold: threshold,
		logger:    logger,
		sent:      make(map[string]bool),
	}
}

// Evaluate lists the alerts a provider result warrants
func (n *Notifier) Evaluate(res *model.ProviderResult) []Alert {
	if res == nil || res.Failed() {
		return nil
	}

	window := ""
	if res.Match != nil && len(res.Match.Windows) > 0 {
		window = res.Match.Windows[0].Label
	}

	var alerts []Alert
	if best := res.Score.Best; best != nil && n.threshold > 0 && best.Combined >= n.threshold {
		report := best.Report
		alerts = append(alerts, Alert{
			Provider: res.Provider,
			Reason:   ReasonScore,
			Score:    best.Combined,
			Report:   &report,
			Window:   window,
		})
	}
	for _, sig := range res.Score.Signals {
		if sig.Type != model.SignalTrackerSpike {
			continue
		}
		count, _ := sig.Data["count"].(int)
		alerts = append(alerts, Alert{
			Provider: res.Provider,
			Reason:   ReasonTracker,
			Count:    count,
			Window:   window,
		})
	}
	return alerts
}

// Notify sends every new alert across results and returns how many were sent.
// A failed send is logged and retried on the next call.
func (n *Notifier) Notify(ctx context.Context, results []*model.ProviderResult) (int, error) {
	sent := 0
	for _, res := range results {
		for _, alert := range n.Evaluate(res) {
			key := alert.Key()
			n.mu.Lock()
			dup := n.sent[key]
			n.mu.Unlock()
			if dup {
				continue
			}

			id, err := n.sender.SendHTML(ctx, n.chatID, FormatAlert(alert))
			if err != nil {
				if ctx.Err() != nil {
					return sent, ctx.Err()
				}
				n.logger.Warn("alert not delivered",
					zap.String("provider", string(alert.Provider)),
					zap.String("reason", string(alert.Reason)),
					zap.Error(err))
				continue
			}

			n.mu.Lock()
			n.sent[key] = true
			n.mu.Unlock()
			sent++
			n.logger.Info("alert sent",
				zap.String("provider", string(alert.Provider)),
				zap.String("reason", string(alert.Reason)),
				zap.Int("message_id", id))
		}
	}
	return sent, nil
}

// FormatAlert renders an alert as Telegram HTML
func FormatAlert(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 <b>ALERT: %s crossed threshold!</b>\n", html.EscapeString(string(a.Provider)))

	switch a.Reason {
	case ReasonTracker:
		fmt.Fprintf(&b, "Count: %d outage reports\n", a.Count)
	default:
		fmt.Fprintf(&b, "Combined score: %.3f\n", a.Score)
	}

	if a.Report != nil {
		title := a.Report.Title
		if title == "" {
			title = a.Report.Text
		}
		if title != "" {
			fmt.Fprintf(&b, "%s\n", html.EscapeString(truncate(title, 200)))
		}
		fmt.Fprintf(&b, "<i>%s</i>\n", a.Report.Time().Format("2006-01-02 15:04 MST"))
		if a.Report.URL != "" {
			fmt.Fprintf(&b, "<a href=\"%s\">source</a>\n", html.EscapeString(a.Report.URL))
		}
	}
	if a.Window != "" {
		fmt.Fprintf(&b, "Corroborated: %s\n", html.EscapeString(a.Window))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
