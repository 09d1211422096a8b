//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairyhunter13/clinical-pilot/internal/adapter/refcache"
	"github.com/fairyhunter13/clinical-pilot/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
	"github.com/fairyhunter13/clinical-pilot/internal/usecase"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "clinical",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/clinical?sslmode=disable", host, port.Port())
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.EnsureSchema(ctx, pool))
	return pool
}

func Test_Postgres_ConversationLifecycle(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	repo := postgres.NewConversationRepo(pool)

	c := domain.Conversation{Messages: []domain.Message{{Role: domain.RoleUser, Content: "persistent cough", Timestamp: time.Now().UTC()}}}
	require.NoError(t, repo.Save(ctx, &c))
	require.NotEqual(t, uuid.Nil, c.ID)

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "persistent cough", got.Messages[0].Content)

	require.NoError(t, repo.Rename(ctx, c.ID, "Cough follow-up"))
	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Title)
	assert.Equal(t, "Cough follow-up", *list[0].Title)
	assert.Equal(t, "persistent cough", list[0].Preview)

	require.NoError(t, repo.Delete(ctx, c.ID))
	_, err = repo.Get(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	history := usecase.NewHistoryService(repo)
	empty, err := history.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func Test_Postgres_ReferenceCache(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	cache := postgres.NewReferenceCacheRepo(pool, time.Hour)

	_, ok, err := cache.Get(ctx, "asthma")
	require.NoError(t, err)
	assert.False(t, ok)

	entry := domain.ReferenceCacheEntry{
		Query:   "asthma",
		Results: []domain.Citation{{Title: "Asthma review", Source: "PubMed", Link: "https://pubmed.ncbi.nlm.nih.gov/1/"}},
	}
	require.NoError(t, cache.Put(ctx, entry))

	got, ok, err := cache.Get(ctx, "asthma")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "Asthma review", got[0].Title)

	require.NoError(t, postgres.NewCleanupService(pool, 1, time.Hour).CleanupOldData(ctx))
	_, ok, err = cache.Get(ctx, "asthma")
	require.NoError(t, err)
	assert.True(t, ok)
}

func Test_ReferenceService_PostgresAndRedisAgree(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	articles := []domain.Article{{ID: "2", Title: "Migraine overview"}}
	caches := map[string]domain.ReferenceCache{
		"postgres": postgres.NewReferenceCacheRepo(pool, time.Hour),
		"redis":    refcache.NewRedisCache(rdb, time.Hour),
	}
	for name, cache := range caches {
		t.Run(name, func(t *testing.T) {
			svc := usecase.NewReferenceService(cache, staticSearcher(articles))
			first := svc.Lookup(ctx, "migraine")
			assert.Equal(t, usecase.LookupFresh, first.Outcome)
			second := svc.Lookup(ctx, "migraine")
			assert.Equal(t, usecase.LookupCached, second.Outcome)
			assert.Equal(t, []domain.Citation{articles[0].Citation()}, second.Citations)
		})
	}
}

type staticSearcher []domain.Article

func (s staticSearcher) Search(_ context.Context, _ string) ([]domain.Article, error) {
	return s, nil
}
