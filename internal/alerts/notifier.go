package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"lecca.io/axelar-watchtower/internal/config"
	"lecca.io/axelar-watchtower/internal/logger"
)

type Notifier interface {
	Notify(ctx context.Context, event AlertEvent) error
}

// MultiNotifier delivers to every sink in order. A failing sink is logged and the
// remaining sinks still run; the last error is returned.
type MultiNotifier struct {
	notifiers []Notifier
}

func (m *MultiNotifier) Notify(ctx context.Context, event AlertEvent) error {
	var lastErr error
	for _, sink := range m.notifiers {
		err := sink.Notify(ctx, event)
		if err == nil {
			continue
		}
		lastErr = err
		logger.Warn("ALERT", "Delivery of %s via %T failed: %v", event.RuleID, sink, err)
	}
	return lastErr
}

// NewNotifier always logs, then adds the chat channels that are enabled and fully
// configured, then any extra sinks such as the dashboard.
func NewNotifier(cfg config.AlertsConfig, extra ...Notifier) *MultiNotifier {
	sinks := []Notifier{&LogNotifier{}}

	if d := cfg.Channels.Discord; d.Enabled && d.Webhook != "" {
		sinks = append(sinks, &DiscordNotifier{webhook: d.Webhook})
	}
	if tg := cfg.Channels.Telegram; tg.Enabled && tg.Token != "" && tg.ChatID != "" {
		sinks = append(sinks, &TelegramNotifier{apiKey: tg.Token, channel: tg.ChatID})
	}
	for _, sink := range extra {
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}
	return &MultiNotifier{notifiers: sinks}
}

type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event AlertEvent) error {
	line := formatMessage(event)
	switch event.Severity {
	case SeverityCritical:
		logger.Error("ALERT", "%s", line)
	case SeverityWarning:
		logger.Warn("ALERT", "%s", line)
	default:
		logger.Info("ALERT", "%s", line)
	}
	return nil
}

func formatMessage(event AlertEvent) string {
	return fmt.Sprintf("[%s][%s] %s", event.Severity, event.RuleID, event.Message)
}

func severityEmoji(sev Severity) string {
	switch sev {
	case SeverityCritical:
		return "🚨"
	case SeverityWarning:
		return "⚠️"
	}
	return "💚"
}

var severityColor = map[Severity]int{
	SeverityCritical: 0xFF0000,
	SeverityWarning:  0xFFA500,
	SeverityInfo:     0x00FF00,
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordNotifier posts one embed per alert to a channel webhook.
type DiscordNotifier struct {
	webhook string
}

func (d *DiscordNotifier) Notify(ctx context.Context, event AlertEvent) error {
	if d.webhook == "" {
		return nil
	}
	embed := discordEmbed{
		Title:       severityEmoji(event.Severity) + " " + event.Title,
		Description: event.Message,
		Color:       severityColor[event.Severity],
		Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
	}
	embed.Fields = append(embed.Fields, discordField{Name: "Severity", Value: string(event.Severity), Inline: true})
	if event.Chain != "" {
		embed.Fields = append(embed.Fields, discordField{Name: "Chain", Value: event.Chain, Inline: true})
	}
	for _, d := range event.Details {
		embed.Fields = append(embed.Fields, discordField{Name: d.Label, Value: d.Value, Inline: true})
	}
	return postJSON(ctx, d.webhook, discordPayload{Embeds: []discordEmbed{embed}})
}

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends HTML formatted messages through the Bot API.
type TelegramNotifier struct {
	apiKey  string
	channel string
	// baseURL replaces telegramAPI when set
	baseURL string
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) Notify(ctx context.Context, event AlertEvent) error {
	if t.apiKey == "" || t.channel == "" {
		return nil
	}
	var b strings.Builder
	esc := html.EscapeString
	fmt.Fprintf(&b, "<b>%s %s</b>\n\n%s\n<b>Severity:</b> %s",
		severityEmoji(event.Severity), esc(event.Title), esc(event.Message), event.Severity)
	if event.Chain != "" {
		fmt.Fprintf(&b, "\n<b>Chain:</b> %s", esc(event.Chain))
	}
	for _, d := range event.Details {
		fmt.Fprintf(&b, "\n<b>%s:</b> %s", esc(d.Label), esc(d.Value))
	}

	base := t.baseURL
	if base == "" {
		base = telegramAPI
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", base, t.apiKey)
	return postJSON(ctx, endpoint, telegramMessage{ChatID: t.channel, Text: b.String(), ParseMode: "HTML"})
}

var webhookClient = &http.Client{Timeout: 10 * time.Second}

func postJSON(ctx context.Context, endpoint string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := webhookClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if len(bytes.TrimSpace(snippet)) == 0 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
}
