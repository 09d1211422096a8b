package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// CleanupService enforces conversation retention and purges expired reference cache rows.
type CleanupService struct {
	Pool          PgxPool
	RetentionDays int
	CacheTTL      time.Duration
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(pool PgxPool, retentionDays int, cacheTTL time.Duration) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays, CacheTTL: cacheTTL}
}

// CleanupOldData removes stale conversations and expired cache rows in one transaction.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	now := time.Now().UTC()
	convCutoff := now.AddDate(0, 0, -s.RetentionDays)
	cacheCutoff := now.Add(-s.CacheTTL)

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=cleanup.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	convTag, err := tx.Exec(ctx, `DELETE FROM conversations WHERE updated_at < $1`, convCutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.conversations: %w", err)
	}
	cacheTag, err := tx.Exec(ctx, `DELETE FROM reference_cache WHERE created_at <= $1`, cacheCutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.reference_cache: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=cleanup.commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_conversations", convTag.RowsAffected()),
		slog.Int64("deleted_reference_cache", cacheTag.RowsAffected()),
		slog.Time("conversation_cutoff", convCutoff),
	)
	return nil
}

// RunPeriodic runs cleanup immediately and then every interval until ctx is done.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
