package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/memory"
	pgstore "github.com/nyx-labs/swarmd/internal/store"
)

// Package-level shared state — set by TestMain, used by all subtests.
// All nil/empty when SWARMD_E2E is unset; tests call requireStack.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testGraph    *memory.Graph
	testRedisURL string
)

// requireStack skips the test unless TestMain brought the backing
// containers up.
func requireStack(t *testing.T) {
	t.Helper()
	if testPGStore == nil {
		t.Skip("backing containers not started (set SWARMD_E2E=1)")
	}
}

// requireGraph additionally skips tests that need Neo4j.
func requireGraph(t *testing.T) {
	t.Helper()
	requireStack(t)
	if testGraph == nil {
		t.Skip("neo4j container not started")
	}
}

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("swarmd_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

func TestMain(m *testing.M) {
	if os.Getenv("SWARMD_E2E") == "" {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()

	dsn, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e: %v\n", err)
		os.Exit(1)
	}
	defer pgCleanup()

	testPGStore, err = pgstore.New(ctx, dsn, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e: connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer testPGStore.Close()
	if err := testPGStore.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "e2e: migrate: %v\n", err)
		os.Exit(1)
	}

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e: %v\n", err)
		os.Exit(1)
	}
	defer redisCleanup()
	testRedisURL = redisURL

	// Neo4j is optional: graph tests skip when it fails to start.
	uri, neoCleanup, err := startNeo4j(ctx)
	if err == nil {
		defer neoCleanup()
		testGraph, err = memory.NewGraph(ctx, uri, "", "", testLogger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "e2e: connect neo4j: %v\n", err)
			testGraph = nil
		} else {
			defer testGraph.Close(ctx)
		}
	} else {
		fmt.Fprintf(os.Stderr, "e2e: %v (graph tests will skip)\n", err)
	}

	os.Exit(m.Run())
}
