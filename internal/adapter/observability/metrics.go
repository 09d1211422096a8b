package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of provider attempts by provider, model and outcome",
		},
		[]string{"provider", "model", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "Provider attempt duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"provider", "model"},
	)
	AIModelDowngradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_model_downgrades_total",
			Help: "Total number of rate-limit driven model downgrades",
		},
		[]string{"from", "to"},
	)
	PromptTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_prompt_tokens",
			Help:    "Estimated prompt size in tokens",
			Buckets: []float64{128, 256, 512, 1024, 2048, 4096, 8192},
		},
	)

	ReferenceLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reference_lookups_total",
			Help: "Reference lookups by outcome (cached, fresh, fallback_empty, fallback_error)",
		},
		[]string{"outcome"},
	)

	ClinicalResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinical_responses_total",
			Help: "Clinical results by kind (structured, fallback, error)",
		},
		[]string{"kind"},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to call repeatedly.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AIModelDowngradesTotal,
			PromptTokens,
			ReferenceLookupsTotal,
			ClinicalResponsesTotal,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// ObserveAIAttempt records one provider attempt.
func ObserveAIAttempt(provider, model, outcome string, d time.Duration) {
	AIRequestsTotal.WithLabelValues(provider, model, outcome).Inc()
	AIRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

// ObserveDowngrade records a model downgrade.
func ObserveDowngrade(from, to string) {
	AIModelDowngradesTotal.WithLabelValues(from, to).Inc()
}

// ObservePromptTokens records the estimated prompt size.
func ObservePromptTokens(n int) {
	if n > 0 {
		PromptTokens.Observe(float64(n))
	}
}

// ObserveReferenceLookup records a reference lookup outcome.
func ObserveReferenceLookup(outcome string) {
	ReferenceLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveClinicalResponse records the kind of a finished clinical result.
func ObserveClinicalResponse(kind string) {
	ClinicalResponsesTotal.WithLabelValues(kind).Inc()
}
