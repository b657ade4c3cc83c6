//go:build integration

package testutil

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mariadb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Images used by the integration tests.
const (
	PostgresImage = "postgres:16-alpine"
	MariaDBImage  = "mariadb:11"
)

// StartPostgres runs a throwaway PostgreSQL container and returns its URL.
// The container is terminated when the test completes.
func StartPostgres(t *testing.T) string {
	t.Helper()
	SkipIfShort(t)

	ctx := context.Background()
	c, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase("lode_test"),
		postgres.WithUsername("lode"),
		postgres.WithPassword("lode"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	url, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	return url
}

// StartMariaDB runs a throwaway MariaDB container and returns a
// go-sql-driver/mysql DSN for it.
func StartMariaDB(t *testing.T) string {
	t.Helper()
	SkipIfShort(t)

	ctx := context.Background()
	c, err := mariadb.Run(ctx, MariaDBImage,
		mariadb.WithDatabase("lode_test"),
		mariadb.WithUsername("lode"),
		mariadb.WithPassword("lode"),
	)
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		t.Fatalf("failed to start mariadb container: %v", err)
	}

	dsn, err := c.ConnectionString(ctx, "parseTime=true", "multiStatements=true")
	if err != nil {
		t.Fatalf("failed to get mariadb connection string: %v", err)
	}
	return dsn
}
