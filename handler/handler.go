package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"support-relay/internal/domain"
	"support-relay/internal/integrations/chatwoot"
	"support-relay/internal/usecase"
)

// ApologyMessage is sent to the customer when every reply attempt failed.
const ApologyMessage = "Sorry, we're unable to provide an answer right now. A member of our team will follow up with you shortly."

const (
	threadKeyPrefix     = "ai_thread_"
	defaultReplyTimeout = 30 * time.Second
	correlationHeader   = "X-Correlation-Id"
)

// MessagingClient is the consumer-side view of the support platform used by
// the handler. *chatwoot.Client satisfies this interface.
type MessagingClient interface {
	GetConversation(ctx context.Context, conversationID int) (chatwoot.Conversation, error)
	UpdateConversationAttributes(ctx context.Context, conversationID int, attrs map[string]any) error
	GetContact(ctx context.Context, contactID int) (chatwoot.Contact, error)
	UpdateContactAttributes(ctx context.Context, contactID int, attrs map[string]any) error
	SendMessage(ctx context.Context, conversationID int, content string) error
}

// ThreadCreator creates a new AI conversation context.
type ThreadCreator interface {
	CreateThread(ctx context.Context) (string, error)
}

// ReplyResolver resolves an AI reply for one inbound message.
type ReplyResolver interface {
	ResolveReply(ctx context.Context, in usecase.ReplyInput) usecase.Result
}

// Notifier pushes best-effort escalation summaries.
type Notifier interface {
	Notify(ctx context.Context, esc domain.Escalation) bool
}

type statusResponse struct {
	Status string `json:"status"`
}

// Handler is the webhook endpoint: it validates inbound events, resolves the
// per-customer thread, orchestrates the reply and writes it back.
type Handler struct {
	messaging    MessagingClient
	threads      ThreadCreator
	replies      ReplyResolver
	notifier     Notifier
	replyTimeout time.Duration
	logger       *slog.Logger

	// threadLocks serializes thread resolve-or-create per
	// (conversation, sender) key so concurrent events from the same
	// customer cannot create duplicate threads.
	threadLocks keyedLock
}

// keyedLock hands out one mutex per key and drops the entry once the last
// holder releases it, so a long-lived process does not accumulate a lock per
// customer.
type keyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLock) acquire(key string) *lockEntry {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[string]*lockEntry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return e
}

func (k *keyedLock) release(key string, e *lockEntry) {
	e.mu.Unlock()

	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}

// NewHandler creates the webhook Handler.
func NewHandler(messaging MessagingClient, threads ThreadCreator, replies ReplyResolver, notifier Notifier, logger *slog.Logger) (*Handler, error) {
	if messaging == nil {
		return nil, errors.New("handler: messaging client must not be nil")
	}
	if threads == nil {
		return nil, errors.New("handler: thread creator must not be nil")
	}
	if replies == nil {
		return nil, errors.New("handler: reply resolver must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("handler: notifier must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		messaging:    messaging,
		threads:      threads,
		replies:      replies,
		notifier:     notifier,
		replyTimeout: defaultReplyTimeout,
		logger:       logger.With(slog.String("component", "webhook")),
	}, nil
}

// Handle processes one inbound webhook event.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)

	var event domain.WebhookEvent
	if err := json.Unmarshal([]byte(req.Body), &event); err != nil {
		return respond(http.StatusInternalServerError, "error: "+err.Error(), corrID), nil
	}

	if event.MessageType != "incoming" {
		return respond(http.StatusOK, "skipped - not incoming", corrID), nil
	}
	if event.Conversation.ID == 0 || event.Sender.ID == 0 {
		return respond(http.StatusBadRequest, "error - missing conv_id or contact_id", corrID), nil
	}

	log := h.logger.With(
		slog.Int("conversation_id", event.Conversation.ID),
		slog.Int("sender_id", event.Sender.ID),
		slog.String("correlation_id", corrID))

	threadID, err := h.resolveThread(ctx, event.Conversation.ID, event.Sender.ID, log)
	if err != nil {
		log.Error("thread resolution failed", slog.Any("error", err))
		return respond(http.StatusInternalServerError, "error: "+err.Error(), corrID), nil
	}

	email := h.customerEmail(ctx, event)
	res := h.resolveWithTimeout(ctx, usecase.ReplyInput{
		ThreadID:       threadID,
		Message:        event.Content,
		ConversationID: event.Conversation.ID,
		CustomerEmail:  email,
		CorrelationID:  corrID,
	})

	reply := res.Text
	if !res.Ok {
		log.Warn("reply resolution failed", slog.String("reason", string(res.Reason)))
		reply = ApologyMessage
		h.notifier.Notify(ctx, domain.Escalation{
			ConversationID:  event.Conversation.ID,
			CustomerMessage: event.Content,
			CustomerEmail:   email,
			Reason:          string(res.Reason),
			Detail:          "all reply attempts exhausted",
			CorrelationID:   corrID,
		})
	}

	if err := h.messaging.SendMessage(ctx, event.Conversation.ID, reply); err != nil {
		log.Error("outgoing message failed", slog.Any("error", err))
		return respond(http.StatusInternalServerError, "error: "+err.Error(), corrID), nil
	}

	return respond(http.StatusOK, "success", corrID), nil
}

// resolveThread returns the stored thread id for the sender, creating and
// persisting a new one on first contact. Resolution is serialized per
// (conversation, sender) key.
func (h *Handler) resolveThread(ctx context.Context, conversationID, senderID int, log *slog.Logger) (string, error) {
	key := fmt.Sprintf("%d:%d", conversationID, senderID)
	entry := h.threadLocks.acquire(key)
	defer h.threadLocks.release(key, entry)

	conv, err := h.messaging.GetConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}

	attrKey := threadKeyPrefix + fmt.Sprint(senderID)
	if stored, ok := conv.CustomAttributes[attrKey].(string); ok && strings.TrimSpace(stored) != "" {
		return stored, nil
	}

	threadID, err := h.threads.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	if err := h.messaging.UpdateConversationAttributes(ctx, conversationID, map[string]any{attrKey: threadID}); err != nil {
		return "", err
	}
	// The contact stamp is informational for agents; a failure here must not
	// block the reply.
	if err := h.messaging.UpdateContactAttributes(ctx, senderID, map[string]any{"ai_thread_id": threadID}); err != nil {
		log.Warn("contact stamp failed", slog.Any("error", err))
	}
	log.Info("created assistant thread", slog.String("thread_id", threadID))
	return threadID, nil
}

// resolveWithTimeout runs the resolver in its own goroutine under a hard
// deadline. The context deadline also cancels the resolver's poll and backoff
// sleeps, so an abandoned attempt stops instead of leaking further retries.
func (h *Handler) resolveWithTimeout(ctx context.Context, in usecase.ReplyInput) usecase.Result {
	rctx, cancel := context.WithTimeout(ctx, h.replyTimeout)
	defer cancel()

	resCh := make(chan usecase.Result, 1)
	go func() {
		resCh <- h.replies.ResolveReply(rctx, in)
	}()

	select {
	case res := <-resCh:
		return res
	case <-rctx.Done():
		return usecase.Result{Text: usecase.TimeoutMessage, Ok: false, Reason: usecase.ReasonTimeout}
	}
}

// customerEmail prefers the identity on the event itself and falls back to a
// contact lookup; escalation identity is best-effort.
func (h *Handler) customerEmail(ctx context.Context, event domain.WebhookEvent) string {
	if event.Sender.Email != "" {
		return event.Sender.Email
	}
	contact, err := h.messaging.GetContact(ctx, event.Sender.ID)
	if err != nil {
		return ""
	}
	return contact.Email
}

func respond(statusCode int, status, corrID string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(statusResponse{Status: status})
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
