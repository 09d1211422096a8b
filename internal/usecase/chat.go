package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/clinical-pilot/internal/adapter/observability"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

// ClinicalProcessor runs one clinical query.
type ClinicalProcessor interface {
	ProcessClinicalQuery(ctx domain.Context, q domain.ClinicalQuery) domain.ClinicalResult
}

// ChatRequest is one incoming chat turn.
// ImageURL is what gets stored on the message; ImageRef is what the image encoder resolves.
type ChatRequest struct {
	Message        string
	ConversationID string
	ImageURL       string
	ImageRef       string
}

// ChatResponse is returned to the client after a turn completes.
type ChatResponse struct {
	Text           string                `json:"text"`
	Data           domain.DiagnosticData `json:"data"`
	ConversationID string                `json:"conversationId"`
	Error          bool                  `json:"error,omitempty"`
}

// replyReserve is kept back from the request deadline to store and return the answer.
const replyReserve = 5 * time.Second

// ChatService persists a conversation turn around the clinical pipeline.
type ChatService struct {
	Conversations domain.ConversationRepository
	Clinical      ClinicalProcessor
	Events        domain.EventPublisher
	Now           func() time.Time
}

// NewChatService constructs a ChatService. events may be nil.
func NewChatService(repo domain.ConversationRepository, clinical ClinicalProcessor, events domain.EventPublisher) ChatService {
	return ChatService{Conversations: repo, Clinical: clinical, Events: events, Now: time.Now}
}

func (s ChatService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ProcessChat appends the user message, runs the query with the full history and stores the answer.
// The returned ConversationID is set whenever a conversation was loaded or created, even on error.
func (s ChatService) ProcessChat(ctx domain.Context, req ChatRequest) (ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return ChatResponse{}, fmt.Errorf("%w: message text is required", domain.ErrInvalidArgument)
	}
	conv := s.loadOrStart(ctx, req.ConversationID)
	conv.Messages = append(conv.Messages, domain.Message{
		Role:      domain.RoleUser,
		Content:   req.Message,
		ImageURL:  req.ImageURL,
		Timestamp: s.now(),
	})
	if err := s.Conversations.Save(ctx, &conv); err != nil {
		return ChatResponse{}, fmt.Errorf("op=chat.save_user_message: %w", err)
	}
	ctx = observability.WithConversation(ctx, conv.ID.String())
	lg := observability.LoggerFromContext(ctx)
	lg.Info("user message saved", slog.Int("message_count", len(conv.Messages)))

	queryCtx, cancel := withReplyReserve(ctx)
	res := s.Clinical.ProcessClinicalQuery(queryCtx, domain.ClinicalQuery{
		Message:  req.Message,
		ImageRef: req.ImageRef,
		History:  conv.History(),
	})
	cancel()
	// The answer is stored even if the caller went away while the query ran.
	ctx = context.WithoutCancel(ctx)
	if strings.TrimSpace(res.Text) == "" {
		res.Text = "Response generated."
	}
	data := res.Data()
	conv.Messages = append(conv.Messages, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   res.Text,
		Timestamp: s.now(),
		Data:      &data,
	})
	resp := ChatResponse{Text: res.Text, Data: data, ConversationID: conv.ID.String(), Error: res.Error}
	if err := s.Conversations.Save(ctx, &conv); err != nil {
		lg.Error("failed to save assistant message", slog.Any("error", err))
		s.recordError(ctx, &conv, err)
		return ChatResponse{ConversationID: conv.ID.String()}, fmt.Errorf("op=chat.save_assistant_message: %w", err)
	}
	lg.Info("assistant response saved", slog.Bool("error_result", res.Error))
	s.publish(ctx, conv.ID.String(), res)
	return resp, nil
}

// withReplyReserve shortens the deadline of ctx by replyReserve when enough time is left.
func withReplyReserve(ctx domain.Context) (domain.Context, context.CancelFunc) {
	dl, ok := ctx.Deadline()
	if !ok || time.Until(dl) <= 2*replyReserve {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, dl.Add(-replyReserve))
}

// loadOrStart returns the stored conversation, or a fresh one when id is empty or unknown.
func (s ChatService) loadOrStart(ctx domain.Context, id string) domain.Conversation {
	fresh := domain.Conversation{Messages: []domain.Message{}}
	if strings.TrimSpace(id) == "" {
		return fresh
	}
	lg := observability.LoggerFromContext(ctx)
	uid, err := uuid.Parse(id)
	if err != nil {
		lg.Warn("invalid conversation id, starting new conversation", slog.String("conversation_id", id))
		return fresh
	}
	conv, err := s.Conversations.Get(ctx, uid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			lg.Warn("conversation not found, starting new conversation", slog.String("conversation_id", id))
		} else {
			lg.Error("failed to load conversation, starting new conversation", slog.String("conversation_id", id), slog.Any("error", err))
		}
		return fresh
	}
	return conv
}

func (s ChatService) recordError(ctx domain.Context, conv *domain.Conversation, cause error) {
	conv.Messages = append(conv.Messages, domain.Message{
		Role:      domain.RoleError,
		Content:   "An error occurred: " + cause.Error(),
		Timestamp: s.now(),
	})
	if err := s.Conversations.Save(ctx, conv); err != nil {
		observability.LoggerFromContext(ctx).Error("failed to save error message", slog.Any("error", err))
	}
}

func (s ChatService) publish(ctx domain.Context, conversationID string, res domain.ClinicalResult) {
	if s.Events == nil {
		return
	}
	ev := domain.ResponseEvent{
		ConversationID:    conversationID,
		Error:             res.Error,
		DifferentialCount: len(res.DifferentialDiagnoses),
		NextStepCount:     len(res.RecommendedNextSteps),
		CreatedAt:         s.now(),
	}
	if res.PrimaryDiagnosis != nil && !res.Error {
		ev.PrimaryDiagnosis = res.PrimaryDiagnosis.Name
	}
	if err := s.Events.PublishResponse(ctx, ev); err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to publish response event", slog.Any("error", err))
	}
}
