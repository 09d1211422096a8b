package ai

import (
	"strings"
	"testing"

	"github.com/fairyhunter13/clinical-pilot/internal/config"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestBuildClinicalPrompt_NoHistory(t *testing.T) {
	t.Parallel()
	p := BuildClinicalPrompt("fever and cough for 3 days", nil)

	assert.True(t, strings.HasPrefix(p, "You are an expert clinical assistant"))
	assert.Contains(t, p, "CURRENT QUERY: fever and cough for 3 days")
	assert.NotContains(t, p, "CONVERSATION HISTORY:")
	for _, key := range []string{`"text"`, `"primaryDiagnosis"`, `"icd10Code"`, `"differentialDiagnoses"`, `"recommendedNextSteps"`, `"step"`} {
		assert.Contains(t, p, key)
	}
	assert.Contains(t, p, "1. Provide ICD-10 codes")
	assert.Contains(t, p, "7. If examining medical images")
}

func TestBuildClinicalPrompt_WithHistory(t *testing.T) {
	t.Parallel()
	history := []domain.HistoryTurn{
		{Role: domain.RoleUser, Content: "I have a headache"},
		{Role: domain.RoleAssistant, Content: "How long has it lasted?"},
		{Role: domain.RoleError, Content: "upstream failure"},
	}
	p := BuildClinicalPrompt("two days", history)

	assert.Contains(t, p, "CONVERSATION HISTORY:\nUSER: I have a headache\nASSISTANT: How long has it lasted?\nERROR: upstream failure\n")
	assert.Less(t, strings.Index(p, "CURRENT QUERY"), strings.Index(p, "CONVERSATION HISTORY"))
	assert.Less(t, strings.Index(p, "CONVERSATION HISTORY"), strings.Index(p, "Important guidelines"))
}

func TestPromptBuilder_Overrides(t *testing.T) {
	t.Parallel()
	pb := NewPromptBuilder(&config.PromptConfig{
		Preamble:   "You are a pediatric triage assistant.",
		Guidelines: []string{"Use weight-based dosing", "Flag red-flag symptoms"},
	})
	p := pb.Build("child with rash", nil)

	assert.True(t, strings.HasPrefix(p, "You are a pediatric triage assistant."))
	assert.Contains(t, p, "1. Use weight-based dosing\n2. Flag red-flag symptoms\n")
	assert.NotContains(t, p, "Provide ICD-10 codes")

	// Empty overrides keep defaults.
	def := NewPromptBuilder(&config.PromptConfig{}).Build("x", nil)
	assert.Equal(t, BuildClinicalPrompt("x", nil), def)
	assert.Equal(t, BuildClinicalPrompt("x", nil), NewPromptBuilder(nil).Build("x", nil))
}
