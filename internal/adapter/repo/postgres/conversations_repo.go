package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

// ConversationRepo persists conversations with their messages as JSONB.
type ConversationRepo struct{ Pool PgxPool }

// NewConversationRepo constructs a ConversationRepo with the given pool.
func NewConversationRepo(p PgxPool) *ConversationRepo { return &ConversationRepo{Pool: p} }

func startSpan(ctx context.Context, name, op, table string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("repo."+table).Start(ctx, name)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
		attribute.String("db.sql.table", table),
	)
	return ctx, span
}

// Get loads a conversation by id.
func (r *ConversationRepo) Get(ctx domain.Context, id uuid.UUID) (domain.Conversation, error) {
	ctx, span := startSpan(ctx, "conversations.Get", "SELECT", "conversations")
	defer span.End()

	q := `SELECT id, COALESCE(title, ''), messages, created_at, updated_at FROM conversations WHERE id=$1`
	var (
		c   domain.Conversation
		raw []byte
	)
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Title, &raw, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, fmt.Errorf("op=conversation.get: %w", domain.ErrNotFound)
		}
		return domain.Conversation{}, fmt.Errorf("op=conversation.get: %w", err)
	}
	if err := json.Unmarshal(raw, &c.Messages); err != nil {
		return domain.Conversation{}, fmt.Errorf("op=conversation.get: decode messages: %w", err)
	}
	if c.Messages == nil {
		c.Messages = []domain.Message{}
	}
	return c, nil
}

// Save upserts the conversation, assigning an id and timestamps when missing.
func (r *ConversationRepo) Save(ctx domain.Context, c *domain.Conversation) error {
	ctx, span := startSpan(ctx, "conversations.Save", "UPSERT", "conversations")
	defer span.End()

	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Messages == nil {
		c.Messages = []domain.Message{}
	}
	raw, err := json.Marshal(c.Messages)
	if err != nil {
		return fmt.Errorf("op=conversation.save: encode messages: %w", err)
	}
	var title any
	if c.Title != "" {
		title = c.Title
	}
	q := `INSERT INTO conversations (id, title, messages, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET messages = EXCLUDED.messages, updated_at = EXCLUDED.updated_at,
		title = COALESCE(EXCLUDED.title, conversations.title)`
	if _, err := r.Pool.Exec(ctx, q, c.ID, title, raw, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("op=conversation.save: %w", err)
	}
	span.SetAttributes(attribute.Int("conversation.messages", len(c.Messages)))
	return nil
}

// List returns conversation summaries, newest first.
func (r *ConversationRepo) List(ctx domain.Context) ([]domain.ConversationSummary, error) {
	ctx, span := startSpan(ctx, "conversations.List", "SELECT", "conversations")
	defer span.End()

	q := `SELECT id, title, COALESCE(messages->0->>'content', ''), updated_at FROM conversations ORDER BY updated_at DESC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=conversation.list: %w", err)
	}
	defer rows.Close()

	out := []domain.ConversationSummary{}
	for rows.Next() {
		var s domain.ConversationSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Preview, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=conversation.list: scan: %w", err)
		}
		if s.Preview == "" {
			s.Preview = "New conversation"
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=conversation.list: %w", err)
	}
	return out, nil
}

// Rename sets the title of an existing conversation.
func (r *ConversationRepo) Rename(ctx domain.Context, id uuid.UUID, title string) error {
	ctx, span := startSpan(ctx, "conversations.Rename", "UPDATE", "conversations")
	defer span.End()

	tag, err := r.Pool.Exec(ctx, `UPDATE conversations SET title=$2, updated_at=$3 WHERE id=$1`, id, title, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=conversation.rename: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=conversation.rename: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete removes a conversation.
func (r *ConversationRepo) Delete(ctx domain.Context, id uuid.UUID) error {
	ctx, span := startSpan(ctx, "conversations.Delete", "DELETE", "conversations")
	defer span.End()

	tag, err := r.Pool.Exec(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=conversation.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=conversation.delete: %w", domain.ErrNotFound)
	}
	return nil
}
