package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"support-relay/internal/domain"
	"support-relay/internal/integrations/assistant"
)

// Canned customer-facing fallback texts. These are display strings only;
// outcome classification relies on Result.Reason.
const (
	ErrorMessage    = "Sorry, an error occurred while processing your request. Our team has been notified."
	TimeoutMessage  = "Sorry, your request took too long to process. Please try again in a moment."
	NotFoundMessage = "Sorry, a reply could not be found for your request. Please try again."
)

const (
	defaultMaxRetries   = 2
	defaultPollInterval = 1 * time.Second
	defaultMaxPolls     = 30
	defaultRetryBackoff = 2 * time.Second
)

// AssistantClient is the consumer-side view of the AI service used by the
// orchestrator. *assistant.Client satisfies this interface.
type AssistantClient interface {
	AddMessage(ctx context.Context, threadID, text string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (assistant.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (assistant.Run, error)
	ListMessages(ctx context.Context, threadID string) ([]assistant.ThreadMessage, error)
}

// Notifier pushes best-effort escalation summaries to a human channel.
type Notifier interface {
	Notify(ctx context.Context, esc domain.Escalation) bool
}

// ReplyInput carries one inbound customer message through the orchestrator.
type ReplyInput struct {
	ThreadID       string
	Message        string
	ConversationID int
	CustomerEmail  string
	CorrelationID  string
}

// ReplyService resolves an AI reply for an inbound message: it submits the
// message to the customer's thread, polls the run to a terminal state, and
// retries the whole cycle up to a fixed bound, escalating at most once per
// inbound event.
type ReplyService struct {
	assistant   AssistantClient
	notifier    Notifier
	assistantID string
	maxRetries  int

	pollInterval time.Duration
	maxPolls     int
	retryBackoff time.Duration

	// sleep is swapped out in tests to avoid wall-clock waits.
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// NewReplyService creates a ReplyService. maxRetries is the number of retries
// after the initial attempt; negative values fall back to the default of 2.
func NewReplyService(client AssistantClient, notifier Notifier, assistantID string, maxRetries int, logger *slog.Logger) (*ReplyService, error) {
	if client == nil {
		return nil, errors.New("usecase: assistant client must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("usecase: notifier must not be nil")
	}
	assistantID = strings.TrimSpace(assistantID)
	if assistantID == "" {
		return nil, errors.New("usecase: assistant id must not be empty")
	}
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyService{
		assistant:    client,
		notifier:     notifier,
		assistantID:  assistantID,
		maxRetries:   maxRetries,
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
		retryBackoff: defaultRetryBackoff,
		sleep:        sleepContext,
		logger:       logger.With(slog.String("component", "reply")),
	}, nil
}

// ResolveReply runs getReply up to 1+maxRetries times with a fixed backoff
// between attempts. The first attempt that produces an Ok result wins; when
// every attempt fails the last failure is returned.
func (s *ReplyService) ResolveReply(ctx context.Context, in ReplyInput) Result {
	var last Result
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		last = s.getReply(ctx, in, attempt)
		if last.Ok {
			return last
		}
		s.logger.Warn("reply attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("conversation_id", in.ConversationID),
			slog.String("reason", string(last.Reason)))
		if attempt < s.maxRetries {
			if err := s.sleep(ctx, s.retryBackoff); err != nil {
				return failure(ReasonRequestError, ErrorMessage)
			}
		}
	}
	return last
}

// getReply performs one full orchestration attempt. Escalation notifications
// fire only when attempt == 0 so a noisy upstream produces one card per
// inbound event, not one per retry.
func (s *ReplyService) getReply(ctx context.Context, in ReplyInput, attempt int) Result {
	if err := s.assistant.AddMessage(ctx, in.ThreadID, in.Message); err != nil {
		return s.fail(ctx, in, attempt, ReasonRequestError, ErrorMessage, err.Error())
	}

	run, err := s.assistant.CreateRun(ctx, in.ThreadID, s.assistantID)
	if err != nil {
		return s.fail(ctx, in, attempt, ReasonRequestError, ErrorMessage, err.Error())
	}

	for poll := 0; poll < s.maxPolls; poll++ {
		current, err := s.assistant.GetRun(ctx, in.ThreadID, run.ID)
		if err != nil {
			return s.fail(ctx, in, attempt, ReasonRequestError, ErrorMessage, err.Error())
		}
		switch current.Status {
		case assistant.RunStatusCompleted:
			return s.extractReply(ctx, in, attempt)
		case assistant.RunStatusFailed, assistant.RunStatusCancelled, assistant.RunStatusExpired:
			detail := fmt.Sprintf("run %s ended with status %s", current.ID, current.Status)
			return s.fail(ctx, in, attempt, ReasonRunFailed, ErrorMessage, detail)
		}
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return s.fail(ctx, in, attempt, ReasonRequestError, ErrorMessage, err.Error())
		}
	}

	detail := fmt.Sprintf("run %s still pending after %d polls", run.ID, s.maxPolls)
	return s.fail(ctx, in, attempt, ReasonTimeout, TimeoutMessage, detail)
}

// extractReply scans the thread for the newest assistant-authored message and
// returns its sanitized text.
func (s *ReplyService) extractReply(ctx context.Context, in ReplyInput, attempt int) Result {
	messages, err := s.assistant.ListMessages(ctx, in.ThreadID)
	if err != nil {
		return s.fail(ctx, in, attempt, ReasonRequestError, ErrorMessage, err.Error())
	}
	for _, msg := range messages {
		if msg.Role != "assistant" {
			continue
		}
		var parts []string
		for _, seg := range msg.Content {
			if seg.Type == "text" && seg.Text.Value != "" {
				parts = append(parts, seg.Text.Value)
			}
		}
		if len(parts) == 0 {
			continue
		}
		return success(Sanitize(strings.Join(parts, "\n")))
	}
	return s.fail(ctx, in, attempt, ReasonReplyNotFound, NotFoundMessage, "no assistant message on thread "+in.ThreadID)
}

func (s *ReplyService) fail(ctx context.Context, in ReplyInput, attempt int, reason ReasonCode, text, detail string) Result {
	if attempt == 0 {
		s.notifier.Notify(ctx, domain.Escalation{
			ConversationID:  in.ConversationID,
			CustomerMessage: in.Message,
			CustomerEmail:   in.CustomerEmail,
			Reason:          string(reason),
			Detail:          detail,
			CorrelationID:   in.CorrelationID,
		})
	}
	return failure(reason, text)
}

// sleepContext waits for the duration or until the context is cancelled,
// whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
