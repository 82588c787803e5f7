package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/davidleathers/collections-call-engine/internal/api/rest"
	"github.com/davidleathers/collections-call-engine/internal/domain/task"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/cache"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/config"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/database"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/events"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/repository"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/telemetry"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/telephony"
	"github.com/davidleathers/collections-call-engine/internal/metrics"
	compliancesvc "github.com/davidleathers/collections-call-engine/internal/service/compliance"
	"github.com/davidleathers/collections-call-engine/internal/service/orchestrator"
	"github.com/davidleathers/collections-call-engine/internal/service/reconciler"
	scriptsvc "github.com/davidleathers/collections-call-engine/internal/service/script"
)

var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "engine failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, &cfg.Telemetry, "collections-call-engine", cfg.Version, cfg.Environment)
	if err != nil {
		return err
	}

	redisCache, err := cache.NewRedisCache(&cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	nc, err := events.Connect(&cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	scripts, err := scriptsvc.LoadScripts(cfg.Scripts.Path)
	if err != nil {
		return err
	}
	logger.Info("scripts loaded", zap.Int("count", len(scripts)))

	attempts := repository.NewAttemptRepository(pool)
	tasks := repository.NewTaskRepository(pool)
	audit := repository.NewAuditRepository(pool)
	customers := repository.NewCustomerRepository(pool)
	customerCache := cache.NewCustomerCache(redisCache, customers, cfg.Orchestrator.CustomerTTL, logger)

	collector := metrics.NewCollector()
	engine := scriptsvc.NewEngine(scripts, cfg.Orchestrator.GatherTimeout, cfg.Provider.RingTimeout, nil, logger)
	registry := orchestrator.NewActiveCallRegistry(logger, collector)
	gate := compliancesvc.NewService(redisCache, audit, &cfg.Compliance, logger)
	provider := telephony.NewClient(&cfg.Provider, logger)

	orch := orchestrator.NewService(gate, engine, provider, customerCache, registry,
		attempts, tasks, collector, cfg, logger)

	recon := reconciler.NewService(registry, engine, provider, attempts, tasks,
		events.NewCompletionPublisher(nc, &cfg.NATS, logger),
		events.NewCallbackPublisher(nc, &cfg.NATS),
		events.NewEscalationPublisher(nc, &cfg.NATS),
		collector, logger)

	handler := rest.NewHandler(recon, gate, customers, map[string]rest.HealthChecker{
		"postgres": rest.HealthCheckFunc(pool.Ping),
		"redis":    rest.HealthCheckFunc(redisCache.Ping),
		"nats": rest.HealthCheckFunc(func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		}),
	}, logger)
	server := rest.NewServer(&cfg.Server, handler, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Task workers are bounded; backpressure falls back on the NATS queue
	// group rather than unbounded goroutines.
	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.Orchestrator.Workers)
	consumer := events.NewTaskConsumer(nc, &cfg.NATS, logger)
	err = consumer.Start(ctx, func(ctx context.Context, t *task.ContactTask) {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := orch.HandleTask(ctx, t); err != nil {
				logger.Error("task handling failed",
					zap.String("task_id", t.ID.String()),
					zap.Error(err))
			}
		}()
	})
	if err != nil {
		return err
	}

	logger.Info("engine started",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	// Shutdown order: stop taking new tasks, let in-flight dials settle,
	// then drain active calls while the webhook server is still serving so
	// their terminal status events can arrive. The server goes down last.
	if err := consumer.Stop(); err != nil {
		logger.Error("failed to stop task consumer", zap.Error(err))
	}
	wg.Wait()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Orchestrator.DrainDeadline)
	defer cancelDrain()
	registry.Shutdown(drainCtx, provider)
	recon.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", zap.Error(err))
	}

	logger.Info("engine stopped")
	return nil
}
