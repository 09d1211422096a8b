// Package ai builds clinical prompts, prepares images and normalizes model output.
package ai

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/clinical-pilot/internal/config"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

const defaultPreamble = `You are an expert clinical assistant helping medical professionals analyze patient cases.
Use your medical knowledge to provide insights based on the following information:`

const outputFormat = `Analyze the case and provide a comprehensive assessment.
Return your response in the following JSON format:

{
  "text": "Your conversational response to the clinician",
  "primaryDiagnosis": {
    "name": "Primary diagnosis name",
    "icd10Code": "ICD-10 code"
  },
  "differentialDiagnoses": [
    {
      "name": "Differential diagnosis 1",
      "icd10Code": "ICD-10 code"
    }
  ],
  "recommendedNextSteps": [
    {
      "step": "Recommended action 1"
    }
  ]
}`

var defaultGuidelines = []string{
	"Provide ICD-10 codes for all diagnoses when possible",
	"List 2-4 differential diagnoses if applicable",
	"Include specific next steps for assessment, testing, or treatment",
	"If insufficient information is provided, request additional details",
	"Return ONLY valid JSON - no additional text, markdown, or explanations outside the JSON structure",
	"If you can't determine a diagnosis, set primaryDiagnosis to null",
	"If examining medical images, include your observations in the text field",
}

// PromptBuilder renders the clinical prompt. The zero value uses built-in wording.
type PromptBuilder struct {
	preamble   string
	guidelines []string
}

// NewPromptBuilder applies optional YAML overrides on top of the defaults.
func NewPromptBuilder(pc *config.PromptConfig) *PromptBuilder {
	pb := &PromptBuilder{}
	if pc != nil {
		pb.preamble = pc.Preamble
		if len(pc.Guidelines) > 0 {
			pb.guidelines = append([]string(nil), pc.Guidelines...)
		}
	}
	return pb
}

// Build renders the prompt for one query. History is omitted entirely when empty.
func (pb *PromptBuilder) Build(message string, history []domain.HistoryTurn) string {
	preamble := defaultPreamble
	guidelines := defaultGuidelines
	if pb != nil {
		if pb.preamble != "" {
			preamble = pb.preamble
		}
		if len(pb.guidelines) > 0 {
			guidelines = pb.guidelines
		}
	}

	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\nCURRENT QUERY: ")
	b.WriteString(message)
	b.WriteString("\n\n")
	if len(history) > 0 {
		b.WriteString("CONVERSATION HISTORY:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(turn.Role)), turn.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString(outputFormat)
	b.WriteString("\n\nImportant guidelines:\n")
	for i, g := range guidelines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, g)
	}
	return b.String()
}

// BuildClinicalPrompt renders the prompt with the built-in wording.
func BuildClinicalPrompt(message string, history []domain.HistoryTurn) string {
	return (*PromptBuilder)(nil).Build(message, history)
}
