//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const migrationsDir = "../../../migrations"

// StartPostgres runs a throwaway postgres with the service migrations
// applied. It skips when docker is unavailable.
func StartPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	if _, err := testcontainers.NewDockerClientWithOpts(ctx); err != nil {
		t.Skipf("docker not available: %v", err)
	}

	ctr, err := postgres.Run(ctx, "postgres:17",
		postgres.WithDatabase("feed_ranker_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	ApplyMigrations(t, pool, migrationsDir)
	return pool
}

func ApplyMigrations(t *testing.T, pool *pgxpool.Pool, dir string) {
	t.Helper()
	absDir, _ := filepath.Abs(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir %q (abs: %q): %v", dir, absDir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		t.Fatalf("no migration files found in %q", absDir)
	}
	sort.Strings(files)

	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			t.Fatalf("read migration %s: %v", f, err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err = pool.Exec(ctx, string(content))
		cancel()
		if err != nil {
			t.Fatalf("apply migration %s: %v", f, err)
		}
	}
}
