// Package usecase contains application business logic services.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/clinical-pilot/internal/adapter/ai"
	"github.com/fairyhunter13/clinical-pilot/internal/adapter/observability"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

const providerFailureText = "I could not generate a structured response (reason: %s). Please provide any additional clinical details (duration, associated symptoms, vitals)."

// ImageEncoder resolves an image reference into inline data.
type ImageEncoder interface {
	Encode(ctx domain.Context, ref string) ai.ImageResult
}

// ClinicalService runs one clinical query through prompt, provider, parser and enrichment.
type ClinicalService struct {
	Prompts     *ai.PromptBuilder
	Images      ImageEncoder
	Provider    domain.CompletionClient
	Parser      *ai.ResponseParser
	References  ReferenceService
	Concurrency int
}

// NewClinicalService constructs a ClinicalService. concurrency bounds parallel reference lookups.
func NewClinicalService(prompts *ai.PromptBuilder, images ImageEncoder, provider domain.CompletionClient, refs ReferenceService, concurrency int) ClinicalService {
	if prompts == nil {
		prompts = ai.NewPromptBuilder(nil)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return ClinicalService{
		Prompts:     prompts,
		Images:      images,
		Provider:    provider,
		Parser:      ai.NewResponseParser(),
		References:  refs,
		Concurrency: concurrency,
	}
}

// ProcessClinicalQuery never returns an error; provider failures become Error results.
func (s ClinicalService) ProcessClinicalQuery(ctx domain.Context, q domain.ClinicalQuery) domain.ClinicalResult {
	lg := observability.LoggerFromContext(ctx)
	prompt := s.Prompts.Build(q.Message, q.History)

	req := domain.CompletionRequest{Prompt: prompt}
	if s.Images != nil {
		img := s.Images.Encode(ctx, q.ImageRef)
		if img.Kind == ai.ImageAttached {
			req.Image = img.Image
		}
		lg.Debug("image resolved", slog.String("kind", img.Kind.String()))
	}

	comp, err := s.Provider.Complete(ctx, req)
	if err != nil {
		lg.Error("provider call failed", slog.Any("error", err))
		observability.ObserveClinicalResponse("error")
		return ErrorResult(err)
	}
	lg.Info("provider call succeeded",
		slog.String("model", comp.Model),
		slog.Int("attempts", comp.Attempts),
		slog.Bool("downgraded", comp.Downgraded))

	parser := s.Parser
	if parser == nil {
		parser = ai.NewResponseParser()
	}
	parsed := parser.Interpret(comp.Text, q.Message)
	res := parsed.Result
	if parsed.Kind == ai.ParseFallback {
		lg.Warn("model output was not a JSON object", slog.Int("output_len", len(comp.Text)))
		observability.ObserveClinicalResponse(parsed.Kind.String())
		return res
	}
	s.enrich(ctx, &res)
	observability.ObserveClinicalResponse(parsed.Kind.String())
	return res
}

// ErrorResult converts a provider failure into the user-facing error result.
func ErrorResult(err error) domain.ClinicalResult {
	reason := "unknown error"
	var pe *domain.ProviderError
	switch {
	case errors.As(err, &pe) && pe.Reason != "":
		reason = pe.Reason
	case err != nil:
		reason = err.Error()
	}
	return domain.ClinicalResult{
		Text:                  fmt.Sprintf(providerFailureText, reason),
		DifferentialDiagnoses: []domain.Diagnosis{},
		RecommendedNextSteps:  []domain.NextStep{},
		Error:                 true,
	}
}

// enrich attaches citations to every entity. Each lookup writes only its own slot.
func (s ClinicalService) enrich(ctx domain.Context, res *domain.ClinicalResult) {
	var targets []*[]domain.Citation
	var topics []string
	if res.PrimaryDiagnosis != nil {
		targets = append(targets, &res.PrimaryDiagnosis.Citations)
		topics = append(topics, res.PrimaryDiagnosis.Name)
	}
	for i := range res.DifferentialDiagnoses {
		targets = append(targets, &res.DifferentialDiagnoses[i].Citations)
		topics = append(topics, res.DifferentialDiagnoses[i].Name)
	}
	for i := range res.RecommendedNextSteps {
		targets = append(targets, &res.RecommendedNextSteps[i].Citations)
		topics = append(topics, res.RecommendedNextSteps[i].Step)
	}
	if len(targets) == 0 {
		return
	}

	found := make([][]domain.Citation, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Concurrency, 1))
	for i, topic := range topics {
		g.Go(func() error {
			found[i] = s.References.FindReferences(gctx, strings.TrimSpace(topic))
			return nil
		})
	}
	_ = g.Wait()

	for i, dst := range targets {
		*dst = found[i]
	}
}
