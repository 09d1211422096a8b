package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

// DefaultResultText is used when the model omits the text field.
const DefaultResultText = "Clinical analysis generated."

var fenceRe = regexp.MustCompile("(?i)```(json)?")

// ParseKind tags how model output was interpreted.
type ParseKind int

const (
	// ParseStructured means a JSON object was decoded and normalized, possibly with no entities.
	ParseStructured ParseKind = iota
	// ParseFallback means no JSON object could be decoded.
	ParseFallback
)

func (k ParseKind) String() string {
	if k == ParseFallback {
		return "fallback"
	}
	return "structured"
}

// ParseResult is the tagged result of ResponseParser.Interpret.
type ParseResult struct {
	Kind   ParseKind
	Result domain.ClinicalResult
}

// ResponseParser turns raw model output into a normalized ClinicalResult.
type ResponseParser struct{}

// NewResponseParser creates a new response parser.
func NewResponseParser() *ResponseParser {
	return &ResponseParser{}
}

// Interpret never fails: output without a decodable JSON object yields a ParseFallback
// carrying FallbackResult.
func (p *ResponseParser) Interpret(raw, userMessage string) ParseResult {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return ParseResult{Kind: ParseFallback, Result: FallbackResult(userMessage)}
	}
	return ParseResult{Kind: ParseStructured, Result: normalizeMap(obj)}
}

// Parse returns only the result of Interpret.
func (p *ResponseParser) Parse(raw, userMessage string) domain.ClinicalResult {
	return p.Interpret(raw, userMessage).Result
}

// FallbackResult is the non-error result for model output that could not be parsed.
func FallbackResult(userMessage string) domain.ClinicalResult {
	return domain.ClinicalResult{
		Text: fmt.Sprintf("I could not fully parse the model output. Based on your query: \"%s\" please provide any additional clinical details (onset, duration, vitals, comorbidities).",
			userMessage),
		DifferentialDiagnoses: []domain.Diagnosis{},
		RecommendedNextSteps:  []domain.NextStep{},
	}
}

func extractJSONObject(raw string) (map[string]any, bool) {
	s := fenceRe.ReplaceAllString(raw, "")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s[start:end+1]), &v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

func normalizeMap(obj map[string]any) domain.ClinicalResult {
	res := domain.ClinicalResult{
		Text:                  DefaultResultText,
		DifferentialDiagnoses: []domain.Diagnosis{},
		RecommendedNextSteps:  []domain.NextStep{},
	}
	if s, ok := obj["text"].(string); ok && strings.TrimSpace(s) != "" {
		res.Text = s
	}
	if d, ok := diagnosisFromAny(obj["primaryDiagnosis"]); ok {
		res.PrimaryDiagnosis = &d
	}
	if arr, ok := obj["differentialDiagnoses"].([]any); ok {
		for _, item := range arr {
			if d, ok := diagnosisFromAny(item); ok {
				res.DifferentialDiagnoses = append(res.DifferentialDiagnoses, d)
			}
		}
	}
	if arr, ok := obj["recommendedNextSteps"].([]any); ok {
		for _, item := range arr {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			step, _ := m["step"].(string)
			step = strings.TrimSpace(step)
			if step == "" {
				continue
			}
			res.RecommendedNextSteps = append(res.RecommendedNextSteps, domain.NextStep{
				Step:      step,
				Citations: citationsFromAny(m["citations"]),
			})
		}
	}
	return res
}

func diagnosisFromAny(v any) (domain.Diagnosis, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return domain.Diagnosis{}, false
	}
	name, _ := m["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Diagnosis{}, false
	}
	code, _ := m["icd10Code"].(string)
	return domain.Diagnosis{
		Name:      name,
		ICD10Code: code,
		Citations: citationsFromAny(m["citations"]),
	}, true
}

func citationsFromAny(v any) []domain.Citation {
	out := []domain.Citation{}
	arr, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := domain.Citation{}
		c.Title, _ = m["title"].(string)
		c.Source, _ = m["source"].(string)
		c.Link, _ = m["link"].(string)
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out
}

// Normalize applies the parser's rules to a typed result. Normalize(Normalize(r)) == Normalize(r).
func Normalize(r domain.ClinicalResult) domain.ClinicalResult {
	out := domain.ClinicalResult{
		Text:                  r.Text,
		Error:                 r.Error,
		DifferentialDiagnoses: []domain.Diagnosis{},
		RecommendedNextSteps:  []domain.NextStep{},
	}
	if r.Error {
		return out
	}
	if strings.TrimSpace(out.Text) == "" {
		out.Text = DefaultResultText
	}
	if r.PrimaryDiagnosis != nil {
		if d, ok := normalizeDiagnosis(*r.PrimaryDiagnosis); ok {
			out.PrimaryDiagnosis = &d
		}
	}
	for _, d := range r.DifferentialDiagnoses {
		if nd, ok := normalizeDiagnosis(d); ok {
			out.DifferentialDiagnoses = append(out.DifferentialDiagnoses, nd)
		}
	}
	for _, s := range r.RecommendedNextSteps {
		step := strings.TrimSpace(s.Step)
		if step == "" {
			continue
		}
		out.RecommendedNextSteps = append(out.RecommendedNextSteps, domain.NextStep{
			Step:      step,
			Citations: filterCitations(s.Citations),
		})
	}
	return out
}

func normalizeDiagnosis(d domain.Diagnosis) (domain.Diagnosis, bool) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return domain.Diagnosis{}, false
	}
	return domain.Diagnosis{Name: name, ICD10Code: d.ICD10Code, Citations: filterCitations(d.Citations)}, true
}

func filterCitations(in []domain.Citation) []domain.Citation {
	out := make([]domain.Citation, 0, len(in))
	for _, c := range in {
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out
}
