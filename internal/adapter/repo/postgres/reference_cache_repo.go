package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

// ReferenceCacheRepo implements domain.ReferenceCache in Postgres.
// Rows older than TTL are invisible and are removed by the cleanup job.
type ReferenceCacheRepo struct {
	Pool PgxPool
	TTL  time.Duration
	now  func() time.Time
}

// NewReferenceCacheRepo constructs a ReferenceCacheRepo.
func NewReferenceCacheRepo(p PgxPool, ttl time.Duration) *ReferenceCacheRepo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ReferenceCacheRepo{Pool: p, TTL: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns ok=false on a miss or an expired row.
func (r *ReferenceCacheRepo) Get(ctx context.Context, query string) ([]domain.Citation, bool, error) {
	ctx, span := startSpan(ctx, "reference_cache.Get", "SELECT", "reference_cache")
	defer span.End()

	var raw []byte
	err := r.Pool.QueryRow(ctx, `SELECT results FROM reference_cache WHERE query=$1 AND created_at > $2`,
		query, r.now().Add(-r.TTL)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("op=reference_cache.get: %w", err)
	}
	out := []domain.Citation{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("op=reference_cache.get: decode: %w", err)
	}
	return out, true, nil
}

// Put inserts the entry; a live row for the same query is left untouched.
func (r *ReferenceCacheRepo) Put(ctx context.Context, entry domain.ReferenceCacheEntry) error {
	ctx, span := startSpan(ctx, "reference_cache.Put", "INSERT", "reference_cache")
	defer span.End()

	if strings.TrimSpace(entry.Query) == "" {
		return fmt.Errorf("op=reference_cache.put: %w: empty query", domain.ErrInvalidArgument)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	raw, err := json.Marshal(entry.Results)
	if err != nil {
		return fmt.Errorf("op=reference_cache.put: encode: %w", err)
	}
	q := `INSERT INTO reference_cache (query, results, created_at) VALUES ($1,$2,$3)
		ON CONFLICT (query) DO UPDATE SET results = EXCLUDED.results, created_at = EXCLUDED.created_at
		WHERE reference_cache.created_at <= $4`
	if _, err := r.Pool.Exec(ctx, q, entry.Query, raw, entry.CreatedAt, r.now().Add(-r.TTL)); err != nil {
		return fmt.Errorf("op=reference_cache.put: %w", err)
	}
	return nil
}
