package usecase_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/clinical-pilot/internal/adapter/ai"
	"github.com/fairyhunter13/clinical-pilot/internal/adapter/ai/gemini"
	"github.com/fairyhunter13/clinical-pilot/internal/adapter/observability"
	"github.com/fairyhunter13/clinical-pilot/internal/config"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
	domainmocks "github.com/fairyhunter13/clinical-pilot/internal/domain/mocks"
	"github.com/fairyhunter13/clinical-pilot/internal/usecase"
)

// topicSearcher returns one article whose title echoes the topic.
type topicSearcher struct{ calls atomic.Int32 }

func (s *topicSearcher) Search(_ context.Context, topic string) ([]domain.Article, error) {
	s.calls.Add(1)
	return []domain.Article{{ID: strings.ReplaceAll(topic, " ", "-"), Title: "Review of " + topic}}, nil
}

const structuredOutput = "```json\n" + `{
  "text": "Likely a viral infection.",
  "primaryDiagnosis": {"name": " Influenza ", "icd10Code": "J11.1"},
  "differentialDiagnoses": [
    {"name": "Common cold", "icd10Code": "J00"},
    {"name": ""},
    {"name": "COVID-19", "icd10Code": "U07.1"}
  ],
  "recommendedNextSteps": [{"step": "Rest"}, {"step": "  "}, {"step": "Hydration"}]
}` + "\n```"

func newClinical(t *testing.T, provider domain.CompletionClient, searcher domain.ReferenceSearcher) usecase.ClinicalService {
	t.Helper()
	refs := usecase.NewReferenceService(nil, searcher)
	return usecase.NewClinicalService(nil, ai.NewImageEncoder(t.TempDir(), time.Second), provider, refs, 3)
}

func TestClinical_TextOnlySuccessIsEnriched(t *testing.T) {
	provider := domainmocks.NewCompletionClient(t)
	provider.On("Complete", mock.Anything, mock.MatchedBy(func(r domain.CompletionRequest) bool {
		return r.Image == nil && strings.Contains(r.Prompt, "fever and cough")
	})).Return(domain.Completion{Text: structuredOutput, Model: "gemini-1.5-flash-latest", Attempts: 1}, nil).Once()
	searcher := &topicSearcher{}

	res := newClinical(t, provider, searcher).ProcessClinicalQuery(context.Background(), domain.ClinicalQuery{Message: "fever and cough"})

	assert.False(t, res.Error)
	require.NotNil(t, res.PrimaryDiagnosis)
	assert.Equal(t, "Influenza", res.PrimaryDiagnosis.Name)
	require.Len(t, res.PrimaryDiagnosis.Citations, 1)
	assert.Equal(t, "Review of Influenza", res.PrimaryDiagnosis.Citations[0].Title)

	require.Len(t, res.DifferentialDiagnoses, 2)
	assert.Equal(t, "Common cold", res.DifferentialDiagnoses[0].Name)
	assert.Equal(t, "Review of Common cold", res.DifferentialDiagnoses[0].Citations[0].Title)
	assert.Equal(t, "Review of COVID-19", res.DifferentialDiagnoses[1].Citations[0].Title)

	require.Len(t, res.RecommendedNextSteps, 2)
	assert.Equal(t, "Review of Rest", res.RecommendedNextSteps[0].Citations[0].Title)
	assert.Equal(t, "Review of Hydration", res.RecommendedNextSteps[1].Citations[0].Title)
	assert.Equal(t, int32(5), searcher.calls.Load())
}

func TestClinical_PersistentRateLimitBecomesErrorResult(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"quota exceeded"}}`))
	}))
	t.Cleanup(srv.Close)
	cfg := config.Config{
		AppEnv:               "test",
		GeminiAPIKey:         "k",
		GeminiBaseURL:        srv.URL,
		GeminiTextModel:      "gemini-1.5-flash-latest",
		GeminiVisionModel:    "gemini-1.5-pro-vision",
		GeminiRequestTimeout: 2 * time.Second,
		GeminiMaxAttempts:    3,
		GeminiBackoffInitial: time.Millisecond,
		GeminiDowngradeDelay: time.Millisecond,
	}
	provider := gemini.New(cfg.GeminiSettings(), gemini.WithSleep(func(context.Context, time.Duration) error { return nil }))
	searcher := domainmocks.NewReferenceSearcher(t)

	res := newClinical(t, provider, searcher).ProcessClinicalQuery(context.Background(), domain.ClinicalQuery{Message: "chest pain"})

	assert.True(t, res.Error)
	assert.Nil(t, res.PrimaryDiagnosis)
	assert.Empty(t, res.DifferentialDiagnoses)
	assert.Empty(t, res.RecommendedNextSteps)
	assert.Contains(t, res.Text, "I could not generate a structured response (reason: ")
	assert.Contains(t, res.Text, "retries exhausted")
	assert.Equal(t, int32(3), calls.Load())
	searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestClinical_MissingLocalImageSendsTextOnly(t *testing.T) {
	provider := domainmocks.NewCompletionClient(t)
	provider.On("Complete", mock.Anything, mock.MatchedBy(func(r domain.CompletionRequest) bool {
		return r.Image == nil
	})).Return(domain.Completion{Text: `{"text":"ok","primaryDiagnosis":{"name":"Dermatitis"}}`}, nil).Once()

	res := newClinical(t, provider, &topicSearcher{}).ProcessClinicalQuery(context.Background(), domain.ClinicalQuery{
		Message:  "rash on arm",
		ImageRef: "does-not-exist.png",
	})

	assert.False(t, res.Error)
	require.NotNil(t, res.PrimaryDiagnosis)
	assert.Equal(t, "Dermatitis", res.PrimaryDiagnosis.Name)
}

func TestClinical_LocalImageIsAttached(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.png"), []byte("png-bytes"), 0o600))
	provider := domainmocks.NewCompletionClient(t)
	provider.On("Complete", mock.Anything, mock.MatchedBy(func(r domain.CompletionRequest) bool {
		return r.Image != nil && r.Image.MimeType == "image/png"
	})).Return(domain.Completion{Text: `{"text":"ok"}`}, nil).Once()

	svc := usecase.NewClinicalService(nil, ai.NewImageEncoder(dir, time.Second), provider, usecase.NewReferenceService(nil, &topicSearcher{}), 2)
	res := svc.ProcessClinicalQuery(context.Background(), domain.ClinicalQuery{Message: "look at this", ImageRef: "/uploads/scan.png"})
	assert.False(t, res.Error)
}

func TestClinical_UnparseableOutputIsNotEnriched(t *testing.T) {
	provider := domainmocks.NewCompletionClient(t)
	provider.On("Complete", mock.Anything, mock.Anything).
		Return(domain.Completion{Text: "Sure! Here's the answer: not json"}, nil).Once()
	searcher := &topicSearcher{}

	res := newClinical(t, provider, searcher).ProcessClinicalQuery(context.Background(), domain.ClinicalQuery{Message: "headache"})

	assert.False(t, res.Error)
	assert.Nil(t, res.PrimaryDiagnosis)
	assert.Contains(t, res.Text, `Based on your query: "headache"`)
	assert.Zero(t, searcher.calls.Load())
}

func TestClinical_EmptyStructuredOutputCountsAsStructured(t *testing.T) {
	provider := domainmocks.NewCompletionClient(t)
	provider.On("Complete", mock.Anything, mock.Anything).
		Return(domain.Completion{Text: `{"text":"No acute findings.","primaryDiagnosis":null,"differentialDiagnoses":[],"recommendedNextSteps":[]}`}, nil).Once()
	searcher := &topicSearcher{}
	structured := observability.ClinicalResponsesTotal.WithLabelValues("structured")
	fallback := observability.ClinicalResponsesTotal.WithLabelValues("fallback")
	beforeStructured, beforeFallback := testutil.ToFloat64(structured), testutil.ToFloat64(fallback)

	res := newClinical(t, provider, searcher).ProcessClinicalQuery(context.Background(), domain.ClinicalQuery{Message: "routine check"})

	assert.False(t, res.Error)
	assert.Equal(t, "No acute findings.", res.Text)
	assert.Zero(t, searcher.calls.Load())
	assert.Equal(t, beforeStructured+1, testutil.ToFloat64(structured))
	assert.Equal(t, beforeFallback, testutil.ToFloat64(fallback))
}

func TestErrorResult_PlainError(t *testing.T) {
	res := usecase.ErrorResult(context.DeadlineExceeded)
	assert.True(t, res.Error)
	assert.Equal(t, "I could not generate a structured response (reason: context deadline exceeded). Please provide any additional clinical details (duration, associated symptoms, vitals).", res.Text)
	assert.NotNil(t, res.DifferentialDiagnoses)
	assert.NotNil(t, res.RecommendedNextSteps)
}

func TestErrorResult_ProviderReason(t *testing.T) {
	err := &domain.ProviderError{Reason: "missing GEMINI_API_KEY", Err: domain.ErrProviderUnavailable}
	res := usecase.ErrorResult(err)
	assert.Contains(t, res.Text, "(reason: missing GEMINI_API_KEY)")
}
