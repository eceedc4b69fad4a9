// Package notify fans trade-lifecycle events out to Telegram/Discord,
// following the teacher's internal/notification package's Notifier-interface
// + multi-backend Manager idiom, narrowed to the events this system raises:
// position opened/closed, paused, and circuit-tripped.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"doge-flow-trader/internal/logging"
)

// EventType distinguishes the kinds of events this system raises.
type EventType string

const (
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventPaused         EventType = "paused"
	EventCircuitTripped EventType = "circuit_tripped"
)

// Event is one trade-lifecycle notification.
type Event struct {
	Type       EventType
	Symbol     string
	Price      float64
	PnLPct     float64
	Reason     string
	Timestamp  time.Time
}

// Notifier is one delivery backend.
type Notifier interface {
	Send(ev Event) error
	Name() string
	IsEnabled() bool
}

// Manager fans an Event out to every enabled Notifier, returning (not
// stopping on) the last error so one backend failing never blocks another.
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager builds an enabled Manager with no backends attached.
func NewManager() *Manager {
	return &Manager{enabled: true}
}

// Add attaches a backend.
func (m *Manager) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// SetEnabled toggles delivery globally (used to silence notifications during
// backtests/dry-run).
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled = enabled
}

// Send delivers ev to every enabled backend.
func (m *Manager) Send(ev Event) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(ev); err != nil {
			logging.Warn("notify: backend send failed", "backend", n.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// PositionOpened notifies a new long entry.
func (m *Manager) PositionOpened(symbol string, price float64, now time.Time) error {
	return m.Send(Event{Type: EventPositionOpened, Symbol: symbol, Price: price, Timestamp: now})
}

// PositionClosed notifies a position close with its realized P&L.
func (m *Manager) PositionClosed(symbol string, price, pnlPct float64, reason string, now time.Time) error {
	return m.Send(Event{Type: EventPositionClosed, Symbol: symbol, Price: price, PnLPct: pnlPct, Reason: reason, Timestamp: now})
}

// Paused notifies the position entering PAUSED state.
func (m *Manager) Paused(symbol, reason string, now time.Time) error {
	return m.Send(Event{Type: EventPaused, Symbol: symbol, Reason: reason, Timestamp: now})
}

// CircuitTripped notifies the circuit breaker engaging.
func (m *Manager) CircuitTripped(symbol, reason string, now time.Time) error {
	return m.Send(Event{Type: EventCircuitTripped, Symbol: symbol, Reason: reason, Timestamp: now})
}

func title(ev Event) string {
	switch ev.Type {
	case EventPositionOpened:
		return fmt.Sprintf("Opened %s @ %.5f", ev.Symbol, ev.Price)
	case EventPositionClosed:
		return fmt.Sprintf("Closed %s @ %.5f (%.2f%%)", ev.Symbol, ev.Price, ev.PnLPct)
	case EventPaused:
		return fmt.Sprintf("%s paused", ev.Symbol)
	case EventCircuitTripped:
		return fmt.Sprintf("%s circuit tripped", ev.Symbol)
	default:
		return ev.Symbol
	}
}

func body(ev Event) string {
	if ev.Reason == "" {
		return ev.Timestamp.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s\n%s", ev.Reason, ev.Timestamp.Format(time.RFC3339))
}

// TelegramNotifier sends notifications via the Telegram bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram connection settings.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// NewTelegramNotifier builds a TelegramNotifier, disabled unless both
// BotToken and ChatID are set.
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string    { return "telegram" }
func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(ev Event) error {
	if !t.enabled {
		return nil
	}

	text := fmt.Sprintf("*%s*\n\n%s", title(ev), body(ev))
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("notify: send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: telegram API status %d", resp.StatusCode)
	}
	return nil
}

// DiscordNotifier sends notifications via a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord connection settings.
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// NewDiscordNotifier builds a DiscordNotifier, disabled unless WebhookURL is set.
func NewDiscordNotifier(cfg DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string    { return "discord" }
func (d *DiscordNotifier) IsEnabled() bool { return d.enabled }

func (d *DiscordNotifier) Send(ev Event) error {
	if !d.enabled {
		return nil
	}

	color := 0x2ecc71
	if ev.Type == EventCircuitTripped || (ev.Type == EventPositionClosed && ev.PnLPct < 0) {
		color = 0xe74c3c
	}

	embed := map[string]interface{}{
		"title":       title(ev),
		"description": body(ev),
		"color":       color,
		"timestamp":   ev.Timestamp.Format(time.RFC3339),
	}
	payload := map[string]interface{}{"embeds": []map[string]interface{}{embed}}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("notify: send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("notify: discord API status %d", resp.StatusCode)
	}
	return nil
}
