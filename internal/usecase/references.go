package usecase

import (
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/clinical-pilot/internal/adapter/observability"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

// Default citation used whenever PubMed yields nothing usable.
const (
	DefaultCitationSource = "MedlinePlus"
	DefaultCitationLink   = "https://medlineplus.gov/ency/encyclopedia.htm"
)

// LookupOutcome tags how a reference lookup was satisfied.
type LookupOutcome string

const (
	LookupCached        LookupOutcome = "cached"
	LookupFresh         LookupOutcome = "fresh"
	LookupFallbackEmpty LookupOutcome = "fallback_empty"
	LookupFallbackError LookupOutcome = "fallback_error"
)

// ReferenceLookup is the tagged result of one lookup.
type ReferenceLookup struct {
	Outcome   LookupOutcome
	Citations []domain.Citation
	Err       error
}

// DefaultCitation is the single citation returned for topic when no article was found.
func DefaultCitation(topic string) domain.Citation {
	return domain.Citation{
		Title:  "Medical information related to " + topic,
		Source: DefaultCitationSource,
		Link:   DefaultCitationLink,
	}
}

// ReferenceService resolves citations for a topic through the cache and PubMed.
type ReferenceService struct {
	Cache    domain.ReferenceCache
	Searcher domain.ReferenceSearcher
	Now      func() time.Time
}

// NewReferenceService constructs a ReferenceService.
func NewReferenceService(cache domain.ReferenceCache, searcher domain.ReferenceSearcher) ReferenceService {
	return ReferenceService{Cache: cache, Searcher: searcher, Now: time.Now}
}

// FindReferences never fails; it returns the default citation on any miss.
func (s ReferenceService) FindReferences(ctx domain.Context, topic string) []domain.Citation {
	return s.Lookup(ctx, topic).Citations
}

// Lookup reads the cache by the exact topic string, then falls back to PubMed.
// Only non-empty PubMed results are written back.
func (s ReferenceService) Lookup(ctx domain.Context, topic string) ReferenceLookup {
	lg := observability.LoggerFromContext(ctx).With(slog.String("topic", topic))

	if s.Cache != nil {
		cached, ok, err := s.Cache.Get(ctx, topic)
		switch {
		case err != nil:
			lg.Warn("reference cache read failed, treating as miss", slog.Any("error", err))
		case ok:
			observability.ObserveReferenceLookup(string(LookupCached))
			return ReferenceLookup{Outcome: LookupCached, Citations: cached}
		}
	}

	if s.Searcher == nil || strings.TrimSpace(topic) == "" {
		return s.fallback(LookupFallbackEmpty, topic, nil)
	}
	articles, err := s.Searcher.Search(ctx, topic)
	if err != nil {
		lg.Warn("reference search failed, using default citation", slog.Any("error", err))
		return s.fallback(LookupFallbackError, topic, err)
	}
	citations := make([]domain.Citation, 0, len(articles))
	for _, a := range articles {
		citations = append(citations, a.Citation())
	}
	if len(citations) == 0 {
		lg.Debug("no review articles found")
		return s.fallback(LookupFallbackEmpty, topic, nil)
	}

	if s.Cache != nil {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		entry := domain.ReferenceCacheEntry{Query: topic, Results: citations, CreatedAt: now().UTC()}
		if err := s.Cache.Put(ctx, entry); err != nil {
			lg.Warn("reference cache write failed", slog.Any("error", err))
		}
	}
	observability.ObserveReferenceLookup(string(LookupFresh))
	return ReferenceLookup{Outcome: LookupFresh, Citations: citations}
}

func (s ReferenceService) fallback(outcome LookupOutcome, topic string, err error) ReferenceLookup {
	observability.ObserveReferenceLookup(string(outcome))
	return ReferenceLookup{Outcome: outcome, Citations: []domain.Citation{DefaultCitation(topic)}, Err: err}
}
