package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/clinical-pilot/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/clinical-pilot/internal/adapter/observability"
	"github.com/fairyhunter13/clinical-pilot/internal/config"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

const provider = "gemini"

const (
	pingPrompt  = "Respond only with: OK"
	pingTimeout = 15 * time.Second
	pingTokens  = 10
)

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client implements domain.CompletionClient against generateContent.
type Client struct {
	cfg    config.GeminiSettings
	hc     *http.Client
	policy RetryPolicy
	sleep  SleepFunc
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithSleep replaces the wait function used between attempts.
func WithSleep(fn SleepFunc) Option { return func(c *Client) { c.sleep = fn } }

// New constructs a Gemini client. Per-attempt deadlines come from cfg.RequestTimeout.
func New(cfg config.GeminiSettings, opts ...Option) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	c := &Client{
		cfg: cfg,
		hc:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		policy: RetryPolicy{
			TextModel:      cfg.TextModel,
			MaxAttempts:    cfg.MaxAttempts,
			InitialDelay:   cfg.BackoffInitial,
			DowngradeDelay: cfg.DowngradeDelay,
		},
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete runs the retry state machine until success or a terminal failure.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	lg := observability.LoggerFromContext(ctx)
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return domain.Completion{}, fmt.Errorf("op=gemini.Complete: %w", &domain.ProviderError{
			Reason: "missing GEMINI_API_KEY", Err: domain.ErrProviderUnavailable,
		})
	}

	model := c.cfg.TextModel
	if req.Image != nil {
		model = c.cfg.VisionModel
	}
	body := c.buildRequest(req.Prompt, req.Image, c.generationConfig())
	observability.ObservePromptTokens(tokencount.CountPrompt(req.Prompt))
	lg.Info("gemini completion start",
		slog.String("model", model),
		slog.Bool("has_image", req.Image != nil),
		slog.Int("prompt_len", len(req.Prompt)))

	state := c.policy.Start(model)
	for {
		text, err := c.attempt(ctx, state.Model, body, c.cfg.RequestTimeout)
		outcome := AttemptOutcome{Text: text, Err: err}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RateLimited() {
			outcome.RateLimited = true
			outcome.RetryAfter = apiErr.RetryDelay
		}
		if dl, ok := ctx.Deadline(); ok {
			outcome.Remaining = max(time.Until(dl), time.Nanosecond)
		}
		prev := state.Model
		state = c.policy.Next(state, outcome)

		switch state.Phase {
		case PhaseSuccess:
			lg.Info("gemini completion done",
				slog.String("model", state.Model),
				slog.Int("attempts", state.Attempts))
			return domain.Completion{
				Text:       state.Text,
				Model:      state.Model,
				Attempts:   state.Attempts,
				Downgraded: len(state.Attempted) > 1,
			}, nil
		case PhaseFailed:
			lg.Error("gemini completion failed",
				slog.String("model", state.Model),
				slog.Int("attempts", state.Attempts),
				slog.String("reason", state.Reason))
			return domain.Completion{}, fmt.Errorf("op=gemini.Complete: %w", &domain.ProviderError{
				Model:    state.Model,
				Attempts: state.Attempts,
				Reason:   state.Reason,
				Err:      classify(state.Cause, outcome.RateLimited),
			})
		case PhaseDowngraded:
			observability.ObserveDowngrade(prev, state.Model)
			lg.Warn("gemini rate limited, downgrading model",
				slog.String("from", prev),
				slog.String("to", state.Model),
				slog.Duration("wait", state.Wait),
				slog.Int("attempts_left", state.AttemptsLeft))
		default:
			lg.Warn("gemini rate limited, backing off",
				slog.String("model", state.Model),
				slog.Duration("wait", state.Wait),
				slog.Int("attempts_left", state.AttemptsLeft))
		}
		if err := c.sleep(ctx, state.Wait); err != nil {
			return domain.Completion{}, fmt.Errorf("op=gemini.Complete: %w", &domain.ProviderError{
				Model:    state.Model,
				Attempts: state.Attempts,
				Reason:   "request cancelled while waiting to retry",
				Err:      err,
			})
		}
	}
}

func classify(cause error, rateLimited bool) error {
	switch {
	case rateLimited:
		return domain.ErrUpstreamRateLimit
	case errors.Is(cause, domain.ErrUpstreamTimeout):
		return domain.ErrUpstreamTimeout
	case errors.Is(cause, domain.ErrEmptyCompletion):
		return domain.ErrEmptyCompletion
	case errors.Is(cause, context.Canceled):
		return context.Canceled
	default:
		return domain.ErrProviderUnavailable
	}
}

// PingResult is the outcome of a connectivity test.
type PingResult struct {
	Success    bool          `json:"success"`
	Model      string        `json:"model"`
	Text       string        `json:"text,omitempty"`
	Status     int           `json:"status,omitempty"`
	Message    string        `json:"message,omitempty"`
	RetryDelay time.Duration `json:"-"`
	RetryHint  string        `json:"retryDelay,omitempty"`
}

// Ping sends a single tiny request to model (or the configured test model) without retries.
func (c *Client) Ping(ctx context.Context, model string) PingResult {
	if model == "" {
		model = c.cfg.TestModel
	}
	if model == "" {
		model = c.cfg.TextModel
	}
	res := PingResult{Model: model}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		res.Message = "missing GEMINI_API_KEY"
		return res
	}
	body := c.buildRequest(pingPrompt, nil, generationConfig{Temperature: 0, MaxOutputTokens: pingTokens})
	text, err := c.attempt(ctx, model, body, pingTimeout)
	if err != nil {
		res.Message = err.Error()
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			res.Status = apiErr.StatusCode
			res.Message = apiErr.Message
			res.RetryDelay = apiErr.RetryDelay
			if apiErr.RetryDelay > 0 {
				res.RetryHint = apiErr.RetryDelay.String()
			}
		}
		return res
	}
	res.Success = true
	res.Text = strings.TrimSpace(text)
	return res
}

func (c *Client) generationConfig() generationConfig {
	return generationConfig{
		Temperature:      c.cfg.Temperature,
		MaxOutputTokens:  c.cfg.MaxOutputTokens,
		TopK:             c.cfg.TopK,
		TopP:             c.cfg.TopP,
		ResponseMimeType: c.cfg.ResponseMimeType,
	}
}

func (c *Client) buildRequest(prompt string, img *domain.InlineImage, gc generationConfig) []byte {
	parts := []part{{Text: prompt}}
	if img != nil {
		parts = append(parts, part{InlineData: &inlineData{MimeType: img.MimeType, Data: img.Base64Data}})
	}
	b, _ := json.Marshal(generateRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: gc,
	})
	return b
}

func (c *Client) endpoint(model string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", base, url.PathEscape(model), url.QueryEscape(c.cfg.APIKey))
}

// attempt performs one HTTP call bounded by timeout.
func (c *Client) attempt(ctx context.Context, model string, body []byte, timeout time.Duration) (string, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, c.endpoint(model), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveAIAttempt(provider, model, "transport_error", time.Since(start))
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("request timed out after %s: %w", timeout, domain.ErrUpstreamTimeout)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		// url.Error embeds the request URL, which carries the key.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("transport error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		observability.ObserveAIAttempt(provider, model, "read_error", time.Since(start))
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome := "http_error"
		if resp.StatusCode == http.StatusTooManyRequests {
			outcome = "rate_limited"
		}
		observability.ObserveAIAttempt(provider, model, outcome, time.Since(start))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil {
			apiErr.Status = env.Error.Status
			apiErr.Message = env.Error.Message
			apiErr.RetryDelay = env.retryDelay()
		}
		return "", apiErr
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		observability.ObserveAIAttempt(provider, model, "decode_error", time.Since(start))
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Candidates) == 0 {
		observability.ObserveAIAttempt(provider, model, "empty", time.Since(start))
		return "", fmt.Errorf("empty candidates: %w", domain.ErrEmptyCompletion)
	}
	for _, p := range gr.Candidates[0].Content.Parts {
		if p.Text != "" {
			observability.ObserveAIAttempt(provider, model, "success", time.Since(start))
			return p.Text, nil
		}
	}
	observability.ObserveAIAttempt(provider, model, "empty", time.Since(start))
	return "", fmt.Errorf("no text part returned: %w", domain.ErrEmptyCompletion)
}
