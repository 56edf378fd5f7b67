package gchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"support-relay/internal/domain"
)

const (
	cardHeader        = "AI reply escalation"
	maxMessagePreview = 300
)

type cardPayload struct {
	CardsV2 []cardV2 `json:"cardsV2"`
}

type cardV2 struct {
	CardID string `json:"cardId"`
	Card   card   `json:"card"`
}

type card struct {
	Header   cardHeaderBlock `json:"header"`
	Sections []cardSection   `json:"sections"`
}

type cardHeaderBlock struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
}

type cardSection struct {
	Widgets []cardWidget `json:"widgets"`
}

type cardWidget struct {
	DecoratedText *decoratedText `json:"decoratedText,omitempty"`
	TextParagraph *textParagraph `json:"textParagraph,omitempty"`
}

type decoratedText struct {
	TopLabel string `json:"topLabel"`
	Text     string `json:"text"`
}

type textParagraph struct {
	Text string `json:"text"`
}

// LinkBuilder produces a deep link to a conversation in the platform UI.
type LinkBuilder interface {
	DashboardURL(conversationID int) string
}

// Notifier posts escalation cards to a chat webhook. A Notifier with no
// webhook URL is valid and reports every notification as not delivered.
type Notifier struct {
	webhookURL string
	links      LinkBuilder
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Notifier)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(n *Notifier) {
		n.httpClient = httpClient
	}
}

// NewNotifier creates a Notifier. An empty webhookURL disables delivery.
// links may be nil, in which case cards carry no conversation link.
func NewNotifier(webhookURL string, links LinkBuilder, logger *slog.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		webhookURL: strings.TrimSpace(webhookURL),
		links:      links,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With(slog.String("component", "gchat")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether a destination webhook is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// Notify pushes an escalation card to the webhook. Delivery is best-effort:
// every failure is logged and swallowed, and the return value only reports
// whether the card was accepted. Notify never blocks the caller's reply path
// beyond the HTTP client timeout.
func (n *Notifier) Notify(ctx context.Context, esc domain.Escalation) bool {
	if !n.Enabled() {
		return false
	}

	payload := n.buildCard(esc)
	encoded, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("escalation card marshal failed", slog.Any("error", err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(encoded))
	if err != nil {
		n.logger.Warn("escalation request build failed", slog.Any("error", err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("escalation delivery failed",
			slog.Int("conversation_id", esc.ConversationID),
			slog.Any("error", err))
		return false
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		n.logger.Warn("escalation rejected by webhook",
			slog.Int("conversation_id", esc.ConversationID),
			slog.Int("status", res.StatusCode))
		return false
	}
	return true
}

func (n *Notifier) buildCard(esc domain.Escalation) cardPayload {
	identity := strings.TrimSpace(esc.CustomerEmail)
	if identity == "" {
		identity = "unknown"
	}

	widgets := []cardWidget{
		{DecoratedText: &decoratedText{TopLabel: "Customer", Text: identity}},
		{DecoratedText: &decoratedText{TopLabel: "Message", Text: truncate(esc.CustomerMessage, maxMessagePreview)}},
		{DecoratedText: &decoratedText{TopLabel: "Time", Text: n.now().UTC().Format(time.RFC3339)}},
		{DecoratedText: &decoratedText{TopLabel: "Reason", Text: esc.Reason}},
	}
	if strings.TrimSpace(esc.Detail) != "" {
		widgets = append(widgets, cardWidget{
			DecoratedText: &decoratedText{TopLabel: "Detail", Text: esc.Detail},
		})
	}
	if n.links != nil {
		widgets = append(widgets, cardWidget{
			TextParagraph: &textParagraph{
				Text: fmt.Sprintf("<a href=%q>Open conversation %d</a>",
					n.links.DashboardURL(esc.ConversationID), esc.ConversationID),
			},
		})
	}

	subtitle := ""
	if esc.CorrelationID != "" {
		subtitle = "correlation " + esc.CorrelationID
	}
	return cardPayload{
		CardsV2: []cardV2{{
			CardID: fmt.Sprintf("escalation-%d", esc.ConversationID),
			Card: card{
				Header:   cardHeaderBlock{Title: cardHeader, Subtitle: subtitle},
				Sections: []cardSection{{Widgets: widgets}},
			},
		}},
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
