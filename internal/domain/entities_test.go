package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleValid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{RoleError, true},
		{Role("system"), false},
		{Role(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.want {
				t.Errorf("Role(%q).Valid() = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestCitationValid(t *testing.T) {
	tests := []struct {
		name string
		c    Citation
		want bool
	}{
		{"complete", Citation{Title: "t", Source: "PubMed", Link: "https://pubmed.ncbi.nlm.nih.gov/1/"}, true},
		{"missing title", Citation{Source: "PubMed", Link: "l"}, false},
		{"blank source", Citation{Title: "t", Source: "  ", Link: "l"}, false},
		{"missing link", Citation{Title: "t", Source: "s"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Valid())
		})
	}
}

func TestClinicalResultData(t *testing.T) {
	t.Run("success keeps entities", func(t *testing.T) {
		r := ClinicalResult{
			Text:             "ok",
			PrimaryDiagnosis: &Diagnosis{Name: "Influenza", ICD10Code: "J11.1"},
			DifferentialDiagnoses: []Diagnosis{
				{Name: "COVID-19"},
			},
		}
		d := r.Data()
		require.NotNil(t, d.PrimaryDiagnosis)
		assert.Equal(t, "Influenza", d.PrimaryDiagnosis.Name)
		assert.Len(t, d.DifferentialDiagnoses, 1)
		assert.NotNil(t, d.RecommendedNextSteps)
		assert.Empty(t, d.RecommendedNextSteps)
	})

	t.Run("error result is empty", func(t *testing.T) {
		r := ClinicalResult{Text: "failed", Error: true, PrimaryDiagnosis: &Diagnosis{Name: "x"}}
		d := r.Data()
		assert.Nil(t, d.PrimaryDiagnosis)
		assert.Empty(t, d.DifferentialDiagnoses)
		assert.Empty(t, d.RecommendedNextSteps)

		b, err := json.Marshal(d)
		require.NoError(t, err)
		assert.JSONEq(t, `{"primaryDiagnosis":null,"differentialDiagnoses":[],"recommendedNextSteps":[]}`, string(b))
	})
}

func TestConversationHistory(t *testing.T) {
	now := time.Now()
	c := &Conversation{
		ID: uuid.New(),
		Messages: []Message{
			{Role: RoleUser, Content: "fever for 3 days", Timestamp: now},
			{Role: RoleAssistant, Content: "Likely viral", Timestamp: now, Data: &DiagnosticData{}},
			{Role: RoleError, Content: "boom", Timestamp: now},
		},
	}

	h := c.History()
	require.Len(t, h, 3)
	assert.Equal(t, HistoryTurn{Role: RoleUser, Content: "fever for 3 days"}, h[0])
	assert.Equal(t, RoleAssistant, h[1].Role)
	assert.Equal(t, RoleError, h[2].Role)

	empty := (&Conversation{}).History()
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestArticleCitation(t *testing.T) {
	a := Article{ID: "12345", Title: "Management of community-acquired pneumonia", Authors: []string{"Doe J"}, Journal: "Lancet", Year: "2021"}
	c := a.Citation()
	assert.Equal(t, Citation{
		Title:  "Management of community-acquired pneumonia",
		Source: "PubMed",
		Link:   "https://pubmed.ncbi.nlm.nih.gov/12345/",
	}, c)
	assert.True(t, c.Valid())
}
