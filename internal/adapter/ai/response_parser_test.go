package ai

import (
	"encoding/json"
	"testing"

	"github.com/fairyhunter13/clinical-pilot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseParser_Parse(t *testing.T) {
	t.Parallel()
	p := NewResponseParser()

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, r domain.ClinicalResult)
	}{
		{
			name: "clean_json",
			raw:  `{"text":"Likely influenza.","primaryDiagnosis":{"name":"Influenza","icd10Code":"J11.1"},"differentialDiagnoses":[{"name":"COVID-19","icd10Code":"U07.1"}],"recommendedNextSteps":[{"step":"Rapid antigen test"}]}`,
			check: func(t *testing.T, r domain.ClinicalResult) {
				assert.Equal(t, "Likely influenza.", r.Text)
				require.NotNil(t, r.PrimaryDiagnosis)
				assert.Equal(t, domain.Diagnosis{Name: "Influenza", ICD10Code: "J11.1", Citations: []domain.Citation{}}, *r.PrimaryDiagnosis)
				assert.Equal(t, []domain.Diagnosis{{Name: "COVID-19", ICD10Code: "U07.1", Citations: []domain.Citation{}}}, r.DifferentialDiagnoses)
				assert.Equal(t, []domain.NextStep{{Step: "Rapid antigen test", Citations: []domain.Citation{}}}, r.RecommendedNextSteps)
				assert.False(t, r.Error)
			},
		},
		{
			name: "markdown_wrapped_json",
			raw:  "Here you go:\n```json\n{\"text\":\"ok\",\"primaryDiagnosis\":{\"name\":\" Migraine \"}}\n```\nThanks",
			check: func(t *testing.T, r domain.ClinicalResult) {
				assert.Equal(t, "ok", r.Text)
				require.NotNil(t, r.PrimaryDiagnosis)
				assert.Equal(t, "Migraine", r.PrimaryDiagnosis.Name)
				assert.Equal(t, "", r.PrimaryDiagnosis.ICD10Code)
			},
		},
		{
			name: "uppercase_fence",
			raw:  "```JSON\n{\"text\":\"upper\"}\n```",
			check: func(t *testing.T, r domain.ClinicalResult) {
				assert.Equal(t, "upper", r.Text)
			},
		},
		{
			name: "missing_text_uses_default",
			raw:  `{"text": 42, "differentialDiagnoses": "not-an-array"}`,
			check: func(t *testing.T, r domain.ClinicalResult) {
				assert.Equal(t, DefaultResultText, r.Text)
				assert.NotNil(t, r.DifferentialDiagnoses)
				assert.Empty(t, r.DifferentialDiagnoses)
			},
		},
		{
			name: "non_string_icd_is_blank",
			raw:  `{"primaryDiagnosis":{"name":"Asthma","icd10Code":45}}`,
			check: func(t *testing.T, r domain.ClinicalResult) {
				require.NotNil(t, r.PrimaryDiagnosis)
				assert.Equal(t, "", r.PrimaryDiagnosis.ICD10Code)
			},
		},
		{
			name: "invalid_citations_filtered",
			raw:  `{"primaryDiagnosis":{"name":"Gout","citations":[{"title":"A","source":"PubMed","link":"https://x"},{"title":"","source":"s","link":"l"},"junk"]}}`,
			check: func(t *testing.T, r domain.ClinicalResult) {
				require.NotNil(t, r.PrimaryDiagnosis)
				assert.Equal(t, []domain.Citation{{Title: "A", Source: "PubMed", Link: "https://x"}}, r.PrimaryDiagnosis.Citations)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, p.Parse(tt.raw, "query"))
		})
	}
}

func TestResponseParser_DropInvariant(t *testing.T) {
	t.Parallel()
	raw := `{
		"differentialDiagnoses":[{"name":"A"},{"name":""},{"icd10Code":"X"},{"name":"   "},{"name":7},"str",{"name":"B"}],
		"recommendedNextSteps":[{"step":"one"},{"step":""},{},{"step":" two "},null]
	}`
	r := NewResponseParser().Parse(raw, "q")

	require.Len(t, r.DifferentialDiagnoses, 2)
	assert.Equal(t, "A", r.DifferentialDiagnoses[0].Name)
	assert.Equal(t, "B", r.DifferentialDiagnoses[1].Name)
	require.Len(t, r.RecommendedNextSteps, 2)
	assert.Equal(t, "one", r.RecommendedNextSteps[0].Step)
	assert.Equal(t, "two", r.RecommendedNextSteps[1].Step)
}

func TestResponseParser_PrimaryNulling(t *testing.T) {
	t.Parallel()
	p := NewResponseParser()
	for _, raw := range []string{
		`{"primaryDiagnosis":null}`,
		`{"primaryDiagnosis":"Flu"}`,
		`{"primaryDiagnosis":{"name":""}}`,
		`{"primaryDiagnosis":{"name":"   "}}`,
		`{"primaryDiagnosis":{"icd10Code":"J10"}}`,
		`{}`,
	} {
		assert.Nil(t, p.Parse(raw, "q").PrimaryDiagnosis, raw)
	}
}

func TestResponseParser_MalformedFallback(t *testing.T) {
	t.Parallel()
	p := NewResponseParser()
	for _, raw := range []string{
		"",
		"I cannot help with that.",
		"Sure! Here's the answer: not json",
		"{not json}",
		"} backwards {",
		"[1,2,3]",
	} {
		pr := p.Interpret(raw, "chest pain on exertion")
		assert.Equal(t, ParseFallback, pr.Kind, raw)
		r := pr.Result
		assert.False(t, r.Error, raw)
		assert.Nil(t, r.PrimaryDiagnosis, raw)
		assert.Empty(t, r.DifferentialDiagnoses, raw)
		assert.Empty(t, r.RecommendedNextSteps, raw)
		assert.Contains(t, r.Text, `"chest pain on exertion"`, raw)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()
	p := NewResponseParser()
	inputs := []string{
		`{"text":"t","primaryDiagnosis":{"name":" Flu ","icd10Code":"J11"},"differentialDiagnoses":[{"name":"x"},{"name":""}],"recommendedNextSteps":[{"step":" rest "}]}`,
		`{"differentialDiagnoses":[{"name":"Only","citations":[{"title":"t","source":"s","link":"l"},{"title":"t"}]}]}`,
		"garbage",
	}
	for _, raw := range inputs {
		once := p.Parse(raw, "q")
		assert.Equal(t, once, Normalize(once), raw)
		assert.Equal(t, Normalize(once), Normalize(Normalize(once)), raw)
	}

	typed := domain.ClinicalResult{
		Text:                  "  ",
		PrimaryDiagnosis:      &domain.Diagnosis{Name: "  "},
		DifferentialDiagnoses: []domain.Diagnosis{{Name: " A ", Citations: []domain.Citation{{Title: "t"}}}},
		RecommendedNextSteps:  []domain.NextStep{{Step: ""}, {Step: "go"}},
	}
	n := Normalize(typed)
	assert.Equal(t, DefaultResultText, n.Text)
	assert.Nil(t, n.PrimaryDiagnosis)
	assert.Equal(t, []domain.Diagnosis{{Name: "A", Citations: []domain.Citation{}}}, n.DifferentialDiagnoses)
	assert.Len(t, n.RecommendedNextSteps, 1)
	assert.Equal(t, n, Normalize(n))
}

func TestNormalize_ErrorResultIsEmpty(t *testing.T) {
	t.Parallel()
	n := Normalize(domain.ClinicalResult{Text: "failed", Error: true, PrimaryDiagnosis: &domain.Diagnosis{Name: "x"}})
	assert.True(t, n.Error)
	assert.Equal(t, "failed", n.Text)
	assert.Nil(t, n.PrimaryDiagnosis)
}

func TestResponseParser_EmptyObjectIsStructured(t *testing.T) {
	t.Parallel()
	pr := NewResponseParser().Interpret(`{"text":"No acute findings.","primaryDiagnosis":null,"differentialDiagnoses":[],"recommendedNextSteps":[]}`, "q")
	assert.Equal(t, ParseStructured, pr.Kind)
	assert.Equal(t, "structured", pr.Kind.String())
	assert.Equal(t, "No acute findings.", pr.Result.Text)
	assert.Nil(t, pr.Result.PrimaryDiagnosis)
	assert.Empty(t, pr.Result.DifferentialDiagnoses)
}

func TestParse_SlicesSerializeAsArrays(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(NewResponseParser().Parse(`{"text":"t","primaryDiagnosis":{"name":"Flu"}}`, "q"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"t","primaryDiagnosis":{"name":"Flu","icd10Code":"","citations":[]},"differentialDiagnoses":[],"recommendedNextSteps":[],"error":false}`, string(b))
}
