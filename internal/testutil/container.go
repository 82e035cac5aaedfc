package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartPostgres launches a throwaway PostgreSQL container and returns its
// connection string. The container is terminated when the test finishes.
// Skips the test when no container runtime is available.
func StartPostgres(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	pg, err := runPostgres(ctx)
	if err != nil {
		t.Skipf("container runtime unavailable, skipping integration test: %v", err)
	}
	t.Cleanup(func() {
		_ = pg.Terminate(context.Background())
	})

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pgtest: container connection string: %v", err)
	}
	return dsn
}

// runPostgres starts the container, converting testcontainers' startup
// panics (it panics rather than returning an error when no Docker host can
// be detected) into ordinary errors so callers can skip.
func runPostgres(ctx context.Context) (pg *tcpostgres.PostgresContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			pg = nil
			err = fmt.Errorf("start postgres container: %v", r)
		}
	}()
	return tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("rankpilot_test"),
		tcpostgres.WithUsername("rankpilot"),
		tcpostgres.WithPassword("rankpilot"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
}
