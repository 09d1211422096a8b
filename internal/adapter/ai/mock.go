package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

// MockModel is reported as the model name of mock completions.
const MockModel = "mock-clinical"

// MockClient implements domain.CompletionClient deterministically for offline mode.
type MockClient struct {
	delay time.Duration
}

// NewMockClient constructs a deterministic mock completion client.
func NewMockClient(delay time.Duration) *MockClient { return &MockClient{delay: delay} }

// Complete returns a fixed viral-fever assessment that echoes the current query.
func (m *MockClient) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	if m.delay > 0 {
		t := time.NewTimer(m.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return domain.Completion{}, fmt.Errorf("op=mock.Complete: %w", ctx.Err())
		case <-t.C:
		}
	}
	query := segment(req.Prompt, "CURRENT QUERY:", "\n")
	if query == "" {
		query = "your case"
	}
	payload := map[string]any{
		"text": fmt.Sprintf("I've analyzed your query about %q. Here's what I found:", query),
		"primaryDiagnosis": map[string]string{
			"name": "Acute Viral Fever", "icd10Code": "B34.9",
		},
		"differentialDiagnoses": []map[string]string{
			{"name": "Common Cold", "icd10Code": "J00"},
			{"name": "Seasonal Influenza", "icd10Code": "J10.1"},
		},
		"recommendedNextSteps": []map[string]string{
			{"step": "Rest and hydration"},
			{"step": "Monitor temperature every 4 hours"},
			{"step": "Take acetaminophen for fever as needed"},
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("op=mock.Complete: %w", err)
	}
	return domain.Completion{Text: string(b), Model: MockModel, Attempts: 1}, nil
}

// segment returns the trimmed text between start and the next end marker.
func segment(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	rest := s[i+len(start):]
	if j := strings.Index(rest, end); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}
