// Package pubmed is a small client for the NCBI E-utilities search API.
package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/clinical-pilot/internal/adapter/observability"
	"github.com/fairyhunter13/clinical-pilot/internal/config"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

// ThrottleKey names the shared request bucket for E-utilities.
const ThrottleKey = "pubmed"

// Throttle blocks until a request may be sent.
type Throttle interface {
	Wait(ctx context.Context, key string, cost int64) error
}

// Client implements domain.ReferenceSearcher using esearch + esummary.
type Client struct {
	cfg      config.PubMedSettings
	hc       *http.Client
	throttle Throttle
}

// Option configures a Client.
type Option func(*Client)

// WithThrottle paces requests through t, typically a Redis token bucket shared across instances.
func WithThrottle(t Throttle) Option { return func(c *Client) { c.throttle = t } }

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// New constructs a PubMed client.
func New(cfg config.PubMedSettings, opts ...Option) *Client {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	// A zero MaxElapsedTime would retry forever.
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = 15 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 4 * time.Second
	}
	c := &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type summary struct {
	Title   string `json:"title"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	FullJournalName string `json:"fulljournalname"`
	Source          string `json:"source"`
	PubDate         string `json:"pubdate"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

// Search returns up to MaxResults review articles for topic, in relevance order.
// Zero hits is not an error.
func (c *Client) Search(ctx context.Context, topic string) ([]domain.Article, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("op=pubmed.Search: %w: empty topic", domain.ErrInvalidArgument)
	}

	q := c.baseParams()
	q.Set("term", topic+" AND review[filter]")
	q.Set("retmax", strconv.Itoa(c.cfg.MaxResults))
	q.Set("sort", "relevance")
	var sr esearchResponse
	if err := c.getJSON(ctx, "esearch.fcgi", q, &sr); err != nil {
		return nil, fmt.Errorf("op=pubmed.Search: esearch: %w", err)
	}
	ids := sr.Result.IDList
	if len(ids) == 0 {
		return []domain.Article{}, nil
	}

	q = c.baseParams()
	q.Set("id", strings.Join(ids, ","))
	var sm esummaryResponse
	if err := c.getJSON(ctx, "esummary.fcgi", q, &sm); err != nil {
		return nil, fmt.Errorf("op=pubmed.Search: esummary: %w", err)
	}

	out := make([]domain.Article, 0, len(ids))
	for _, id := range ids {
		raw, ok := sm.Result[id]
		if !ok {
			continue
		}
		var s summary
		if err := json.Unmarshal(raw, &s); err != nil || strings.TrimSpace(s.Title) == "" {
			continue
		}
		out = append(out, toArticle(id, s))
	}
	return out, nil
}

func toArticle(id string, s summary) domain.Article {
	a := domain.Article{ID: id, Title: strings.TrimSpace(s.Title), Journal: s.FullJournalName}
	for _, au := range s.Authors {
		if au.Name != "" {
			a.Authors = append(a.Authors, au.Name)
		}
	}
	if a.Journal == "" {
		a.Journal = s.Source
	}
	if len(s.PubDate) >= 4 {
		a.Year = s.PubDate[:4]
	}
	return a
}

func (c *Client) baseParams() url.Values {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("retmode", "json")
	if c.cfg.APIKey != "" {
		q.Set("api_key", c.cfg.APIKey)
	}
	return q
}

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = c.cfg.MaxElapsedTime
	if c.cfg.Multiplier > 0 {
		bo.Multiplier = c.cfg.Multiplier
	}
	return backoff.WithContext(bo, ctx)
}

// getJSON GETs an E-utilities endpoint, retrying 429 and 5xx with exponential backoff.
func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, dst any) error {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + endpoint + "?" + q.Encode()
	lg := observability.LoggerFromContext(ctx)

	op := func() error {
		if c.throttle != nil {
			if err := c.throttle.Wait(ctx, ThrottleKey, 1); err != nil {
				return backoff.Permanent(err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("%s status %d", endpoint, resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("%s status %d", endpoint, resp.StatusCode))
		}
		if err := json.Unmarshal(body, dst); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", endpoint, err))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		lg.Warn("pubmed request retry", slog.String("endpoint", endpoint), slog.Any("error", err), slog.Duration("wait", wait))
	}
	return backoff.RetryNotify(op, c.backoff(ctx), notify)
}
