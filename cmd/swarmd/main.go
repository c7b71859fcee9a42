package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/agent"
	"github.com/nyx-labs/swarmd/internal/api"
	"github.com/nyx-labs/swarmd/internal/config"
	"github.com/nyx-labs/swarmd/internal/memory"
	"github.com/nyx-labs/swarmd/internal/messaging"
	"github.com/nyx-labs/swarmd/internal/metrics"
	"github.com/nyx-labs/swarmd/internal/orchestrator"
	pgstore "github.com/nyx-labs/swarmd/internal/store"
	"github.com/nyx-labs/swarmd/internal/swarm"
	"github.com/nyx-labs/swarmd/internal/trigger"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/swarmd.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("starting swarmd", zap.String("config", cfgPath))

	ctx := context.Background()

	// Task and agent state persistence: Postgres when configured,
	// in-memory otherwise.
	var (
		tasks  swarm.TaskStore
		states swarm.AgentStateStore
		pg     *pgstore.Store
	)
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("postgres unavailable, using in-memory store", zap.Error(pgErr))
		} else {
			migrationsDir := cfg.Migrations
			if migrationsDir == "" {
				migrationsDir = "migrations"
			}
			if mErr := ps.Migrate(ctx, migrationsDir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pg = ps
			tasks, states = ps, ps
		}
	}
	if pg == nil {
		mem := pgstore.NewMem()
		tasks, states = mem, mem
	}

	// Message bus: Redis when configured, in-memory otherwise.
	var bus swarm.MessageBus
	if cfg.Database.Redis.URL != "" {
		rb, busErr := messaging.NewRedisBus(ctx, cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("redis unavailable, using in-memory bus", zap.Error(busErr))
		} else {
			bus = rb
		}
	}
	if bus == nil {
		bus = messaging.NewMemBus()
	}

	// Shared knowledge graph, optional.
	var graph *memory.Graph
	if cfg.Database.Neo4j.URI != "" {
		g, memErr := memory.NewGraph(ctx, cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if memErr != nil {
			logger.Warn("neo4j unavailable, running without memory graph", zap.Error(memErr))
		} else {
			graph = g
		}
	}

	mx := metrics.New()

	coordinators := make([]swarm.CoordinatorConfig, 0, len(cfg.Coordinators))
	for _, c := range cfg.Coordinators {
		coordinators = append(coordinators, swarm.CoordinatorConfig{
			Name:        c.Name,
			MaxParallel: c.MaxParallel,
		})
	}

	orch := orchestrator.New(tasks, states, bus, swarm.DefaultRoutingTable(), mx, orchestrator.Options{
		PollInterval:       cfg.Orchestrator.PollInterval(),
		MaxPipelineSteps:   cfg.Orchestrator.MaxPipelineSteps,
		DefaultTaskTimeout: cfg.Orchestrator.DefaultTimeout(),
		DefaultMaxRetries:  cfg.Orchestrator.DefaultMaxRetries,
		Coordinators:       coordinators,
	}, logger)

	registry := agent.NewRegistry()
	for _, ac := range cfg.Agents {
		acfg := swarm.AgentConfig{
			ID:                ac.ID,
			Name:              ac.Name,
			Role:              ac.Role,
			Coordinator:       ac.Coordinator,
			Capabilities:      ac.Capabilities,
			HeartbeatInterval: time.Duration(ac.HeartbeatSecs) * time.Second,
		}
		a := agent.New(acfg, registry.New(acfg), bus, states, logger)
		if regErr := orch.RegisterAgent(ctx, a); regErr != nil {
			logger.Warn("agent registration failed", zap.String("agent", ac.ID), zap.Error(regErr))
		}
	}

	orch.StartAllAgents(ctx)
	orch.Start()

	triggers := trigger.NewEngine(orch, logger)
	if err := triggers.Start(); err != nil {
		logger.Fatal("trigger engine failed", zap.Error(err))
	}

	handler := api.NewHandler(orch, triggers, graph, mx, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("swarmd listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down swarmd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	srv.Shutdown(shutdownCtx)
	triggers.Stop()
	orch.Stop()
	orch.StopAllAgents(shutdownCtx)
	bus.Close()
	if graph != nil {
		graph.Close(shutdownCtx)
	}
	if pg != nil {
		pg.Close()
	}
}

func newLogger(level string) *zap.Logger {
	var cfg zap.Config
	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
		if lvl, err := zap.ParseAtomicLevel(level); err == nil {
			cfg.Level = lvl
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
