package usecase

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

// HistoryService exposes stored conversations to the history sidebar.
type HistoryService struct {
	Conversations domain.ConversationRepository
}

// NewHistoryService constructs a HistoryService.
func NewHistoryService(repo domain.ConversationRepository) HistoryService {
	return HistoryService{Conversations: repo}
}

// List returns summaries, newest first.
func (s HistoryService) List(ctx domain.Context) ([]domain.ConversationSummary, error) {
	out, err := s.Conversations.List(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.ConversationSummary{}
	}
	return out, nil
}

// Get returns a full conversation.
func (s HistoryService) Get(ctx domain.Context, id string) (domain.Conversation, error) {
	uid, err := parseConversationID(id)
	if err != nil {
		return domain.Conversation{}, err
	}
	return s.Conversations.Get(ctx, uid)
}

// Rename sets a trimmed, non-empty title.
func (s HistoryService) Rename(ctx domain.Context, id, title string) error {
	uid, err := parseConversationID(id)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrInvalidArgument)
	}
	return s.Conversations.Rename(ctx, uid, title)
}

// Delete removes a conversation.
func (s HistoryService) Delete(ctx domain.Context, id string) error {
	uid, err := parseConversationID(id)
	if err != nil {
		return err
	}
	return s.Conversations.Delete(ctx, uid)
}

// An id that is not a UUID cannot exist in the store.
func parseConversationID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: conversation %q", domain.ErrNotFound, id)
	}
	return uid, nil
}
