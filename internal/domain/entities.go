package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamRateLimit   = errors.New("upstream rate limit")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrEmptyCompletion     = errors.New("empty completion")
	ErrInternal            = errors.New("internal error")
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleError:
		return true
	}
	return false
}

// HistoryTurn is one prior turn handed to the prompt builder.
type HistoryTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ClinicalQuery is the immutable input of one orchestrator invocation.
// Invariants: Message non-empty; ImageRef is a local reference or an absolute URL.
type ClinicalQuery struct {
	Message  string
	ImageRef string
	History  []HistoryTurn
}

// Citation is a bibliographic reference attached to a diagnosis or step.
type Citation struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	Link   string `json:"link"`
}

// Valid reports whether all three citation fields are present.
func (c Citation) Valid() bool {
	return strings.TrimSpace(c.Title) != "" && strings.TrimSpace(c.Source) != "" && strings.TrimSpace(c.Link) != ""
}

// Diagnosis is a normalized diagnostic entity. Name is never blank.
type Diagnosis struct {
	Name      string     `json:"name"`
	ICD10Code string     `json:"icd10Code"`
	Citations []Citation `json:"citations"`
}

// NextStep is a normalized recommended action. Step is never blank.
type NextStep struct {
	Step      string     `json:"step"`
	Citations []Citation `json:"citations"`
}

// ClinicalResult is the output of the orchestration pipeline.
// When Error is true all diagnostic fields are empty and Text explains why.
type ClinicalResult struct {
	Text                  string      `json:"text"`
	PrimaryDiagnosis      *Diagnosis  `json:"primaryDiagnosis"`
	DifferentialDiagnoses []Diagnosis `json:"differentialDiagnoses"`
	RecommendedNextSteps  []NextStep  `json:"recommendedNextSteps"`
	Error                 bool        `json:"error"`
}

// Data returns the diagnostic part of the result as stored with a message.
func (r ClinicalResult) Data() DiagnosticData {
	d := DiagnosticData{
		DifferentialDiagnoses: r.DifferentialDiagnoses,
		RecommendedNextSteps:  r.RecommendedNextSteps,
	}
	if !r.Error {
		d.PrimaryDiagnosis = r.PrimaryDiagnosis
	}
	if d.DifferentialDiagnoses == nil || r.Error {
		d.DifferentialDiagnoses = []Diagnosis{}
	}
	if d.RecommendedNextSteps == nil || r.Error {
		d.RecommendedNextSteps = []NextStep{}
	}
	return d
}

// Article is one literature search hit before it is reduced to a citation.
type Article struct {
	ID      string
	Title   string
	Authors []string
	Journal string
	Year    string
}

// Citation reduces a PubMed article to a citation.
func (a Article) Citation() Citation {
	return Citation{
		Title:  a.Title,
		Source: "PubMed",
		Link:   "https://pubmed.ncbi.nlm.nih.gov/" + a.ID + "/",
	}
}

// ReferenceCacheEntry is a cached PubMed lookup keyed by the exact query string.
type ReferenceCacheEntry struct {
	Query     string     `json:"query"`
	Results   []Citation `json:"results"`
	CreatedAt time.Time  `json:"createdAt"`
}

// InlineImage is an image ready to be embedded in a provider request.
type InlineImage struct {
	MimeType   string
	Base64Data string
}

// CompletionRequest carries a built prompt and an optional image to the provider.
type CompletionRequest struct {
	Prompt string
	Image  *InlineImage
}

// Completion is the raw provider output plus call metadata.
type Completion struct {
	Text       string
	Model      string
	Attempts   int
	Downgraded bool
}

// ProviderError is returned by CompletionClient implementations when a call fails.
// Reason is safe to show to end users; Err is one of the sentinels above.
type ProviderError struct {
	Model    string
	Attempts int
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string { return e.Reason }

func (e *ProviderError) Unwrap() error { return e.Err }

// DiagnosticData is the structured part persisted with an assistant message.
type DiagnosticData struct {
	PrimaryDiagnosis      *Diagnosis  `json:"primaryDiagnosis"`
	DifferentialDiagnoses []Diagnosis `json:"differentialDiagnoses"`
	RecommendedNextSteps  []NextStep  `json:"recommendedNextSteps"`
}

// Message is one persisted conversation entry.
type Message struct {
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	ImageURL  string          `json:"imageUrl,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      *DiagnosticData `json:"data,omitempty"`
}

// Conversation is the long-lived chat thread owned by the conversation store.
type Conversation struct {
	ID        uuid.UUID `json:"conversationId"`
	Title     string    `json:"title,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// History returns the role/content snapshot handed to the orchestrator.
func (c *Conversation) History() []HistoryTurn {
	out := make([]HistoryTurn, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, HistoryTurn{Role: m.Role, Content: m.Content})
	}
	return out
}

// ConversationSummary is a row of the history sidebar.
type ConversationSummary struct {
	ID        uuid.UUID `json:"id"`
	Title     *string   `json:"title"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ports

// CompletionClient issues a completion request to an LLM provider.
type CompletionClient interface {
	Complete(ctx Context, req CompletionRequest) (Completion, error)
}

// ReferenceSearcher queries a literature index for review articles on a topic.
type ReferenceSearcher interface {
	Search(ctx Context, topic string) ([]Article, error)
}

// ReferenceCache stores PubMed lookups by exact query string.
// Get reports ok=false on a miss; Put of an existing key is a no-op.
type ReferenceCache interface {
	Get(ctx Context, query string) (results []Citation, ok bool, err error)
	Put(ctx Context, entry ReferenceCacheEntry) error
}

// ConversationRepository persists conversations.
type ConversationRepository interface {
	Get(ctx Context, id uuid.UUID) (Conversation, error)
	Save(ctx Context, c *Conversation) error
	List(ctx Context) ([]ConversationSummary, error)
	Rename(ctx Context, id uuid.UUID, title string) error
	Delete(ctx Context, id uuid.UUID) error
}

// ResponseEvent is published after each completed chat turn.
type ResponseEvent struct {
	ConversationID    string    `json:"conversation_id"`
	Error             bool      `json:"error"`
	PrimaryDiagnosis  string    `json:"primary_diagnosis,omitempty"`
	DifferentialCount int       `json:"differential_count"`
	NextStepCount     int       `json:"next_step_count"`
	CreatedAt         time.Time `json:"created_at"`
}

// EventPublisher publishes response events; implementations must not block the chat flow on failure.
type EventPublisher interface {
	PublishResponse(ctx Context, ev ResponseEvent) error
}

// Context is an alias to std context so ports stay terse.
type Context = context.Context
