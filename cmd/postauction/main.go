// Command postauction launches the post-auction reconciliation service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"

	"github.com/bidwire/postauction/config"
	"github.com/bidwire/postauction/internal/agents"
	"github.com/bidwire/postauction/internal/archive"
	"github.com/bidwire/postauction/internal/billing"
	"github.com/bidwire/postauction/internal/matcher"
	"github.com/bidwire/postauction/internal/observability"
	"github.com/bidwire/postauction/internal/router"
	"github.com/bidwire/postauction/internal/server"
	"github.com/bidwire/postauction/internal/telemetry"
)

const (
	defaultConfigPath       = "config/postauction.yaml"
	servicePrefix           = "postauction "
	shutdownTimeout         = 30 * time.Second
	adminShutdownTimeout    = 5 * time.Second
	engineShutdownTimeout   = 10 * time.Second
	telemetryFlushTimeout   = 5 * time.Second
	healthStaleMultiplier   = 10
	defaultDeliveryQueue    = 1024
	defaultDeliveryTimeout  = 10 * time.Second
	defaultArchiveQueueSize = 4096
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	base := log.New(os.Stdout, servicePrefix, log.LstdFlags|log.Lmicroseconds)

	cfg, loadedFromFile, err := config.Load(cfgPath)
	if err != nil {
		base.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		base.Printf("configuration file not found, using defaults")
	}

	logger := observability.NewStdLogger(base, cfg.Service.DebugLog)
	logger.Info("configuration initialised",
		observability.F("adminAddr", cfg.Service.AdminAddr),
		observability.F("auctionTimeout", cfg.Engine.AuctionTimeout.String()),
		observability.F("sweepInterval", cfg.Engine.SweepInterval.String()),
		observability.F("agents", len(cfg.Agents.Directory)))

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewEngineMetrics(registry)

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Service.Name)
	if err != nil {
		base.Fatalf("initialize telemetry: %v", err)
	}

	banker, bankerClose, err := buildBanker(cfg.Banker, logger, metrics)
	if err != nil {
		base.Fatalf("initialize banker: %v", err)
	}

	directory := agents.NewStaticDirectory(agentTable(cfg.Agents.Directory))
	transport := agents.NewWSTransport(agents.WSConfig{
		DialTimeout: cfg.Agents.DialTimeout,
		WriteRate:   cfg.Agents.WriteRate,
		WriteBurst:  cfg.Agents.WriteBurst,
	}, logger)

	listeners, archiveStore, err := buildListeners(ctx, cfg.Archive, logger)
	if err != nil {
		base.Fatalf("initialize archive: %v", err)
	}

	outRouter := router.New(router.Config{
		DeliveryWorkers: cfg.Engine.DeliveryWorkers,
		DeliveryQueue:   defaultDeliveryQueue,
		DeliverTimeout:  defaultDeliveryTimeout,
	}, banker, directory, transport, logger, metrics, listeners...)

	engine, err := matcher.New(matcher.Config{
		WinTimeout:     cfg.Engine.WinTimeout,
		AuctionTimeout: cfg.Engine.AuctionTimeout,
		SweepInterval:  cfg.Engine.SweepInterval,
		DrainWindow:    cfg.Engine.DrainWindow,
		QueueCapacity:  cfg.Engine.QueueCapacity,
	}, outRouter, logger, metrics)
	if err != nil {
		base.Fatalf("initialize engine: %v", err)
	}

	admin := server.New(server.Config{
		Addr:       cfg.Service.AdminAddr,
		StaleAfter: cfg.Engine.SweepInterval * healthStaleMultiplier,
	}, engine, metrics, registry, logger)

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { engine.Run(engineCtx) })
	lifecycle.Go(func() {
		if err := admin.ListenAndServe(); err != nil {
			logger.Error("admin server", observability.F("error", err.Error()))
		}
	})

	logger.Info("service started, awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	performGracefulShutdown(shutdownCtx, logger, shutdownTargets{
		admin:             admin,
		engineCancel:      engineCancel,
		engineDone:        engine.Done(),
		lifecycle:         &lifecycle,
		router:            outRouter,
		bankerClose:       bankerClose,
		transport:         transport,
		archive:           archiveStore,
		telemetryShutdown: telemetryShutdown,
	})
	logger.Info("shutdown complete")
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	if *cfgPath != "" {
		return *cfgPath
	}
	return filepath.Clean(defaultConfigPath)
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// buildBanker selects the billing collaborator: HTTP when an endpoint is
// configured, logging otherwise. The returned closer is nil for the
// in-process banker.
func buildBanker(cfg config.BankerSettings, logger observability.Logger, metrics *telemetry.EngineMetrics) (billing.Banker, func(), error) {
	if cfg.Endpoint == "" {
		logger.Info("no billing endpoint configured, settlements will be logged only")
		return billing.NewLogBanker(logger), nil, nil
	}
	banker, err := billing.NewHTTPBanker(cfg.Endpoint, cfg.HTTPTimeout, cfg.QueueSize, logger, metrics)
	if err != nil {
		return nil, nil, err
	}
	return banker, banker.Close, nil
}

func buildListeners(ctx context.Context, cfg config.ArchiveSettings, logger observability.Logger) ([]router.Listener, *archive.Store, error) {
	if cfg.DSN == "" {
		logger.Info("no archive DSN configured, outcomes will not be persisted")
		return nil, nil, nil
	}
	store, err := archive.New(ctx, cfg.DSN, defaultArchiveQueueSize, logger)
	if err != nil {
		return nil, nil, err
	}
	return []router.Listener{store}, store, nil
}

func agentTable(entries map[string]string) map[string]agents.Address {
	table := make(map[string]agents.Address, len(entries))
	for account, addr := range entries {
		table[account] = agents.Address(addr)
	}
	return table
}

type shutdownTargets struct {
	admin             *server.Server
	engineCancel      context.CancelFunc
	engineDone        <-chan struct{}
	lifecycle         *conc.WaitGroup
	router            *router.Router
	bankerClose       func()
	transport         *agents.WSTransport
	archive           *archive.Store
	telemetryShutdown func(context.Context) error
}

// performGracefulShutdown stops the outer surfaces first, then lets the
// engine drain, then releases the collaborators the drained outcomes needed.
func performGracefulShutdown(ctx context.Context, logger observability.Logger, t shutdownTargets) {
	step := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			logger.Error("shutdown step failed",
				observability.F("step", name),
				observability.F("error", err.Error()))
			return
		}
		logger.Debug("shutdown step complete", observability.F("step", name))
	}

	step("admin server", adminShutdownTimeout, t.admin.Shutdown)

	step("engine drain", engineShutdownTimeout, func(stepCtx context.Context) error {
		t.engineCancel()
		select {
		case <-t.engineDone:
			return nil
		case <-stepCtx.Done():
			return stepCtx.Err()
		}
	})

	step("lifecycle goroutines", engineShutdownTimeout, func(stepCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			t.lifecycle.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return stepCtx.Err()
		}
	})

	step("delivery workers", engineShutdownTimeout, func(context.Context) error {
		t.router.Close()
		return nil
	})
	if t.bankerClose != nil {
		step("settlement queue", engineShutdownTimeout, func(context.Context) error {
			t.bankerClose()
			return nil
		})
	}
	step("agent connections", adminShutdownTimeout, func(context.Context) error {
		t.transport.Close()
		return nil
	})
	if t.archive != nil {
		step("archive writer", engineShutdownTimeout, func(context.Context) error {
			t.archive.Close()
			return nil
		})
	}
	if t.telemetryShutdown != nil {
		step("telemetry flush", telemetryFlushTimeout, t.telemetryShutdown)
	}
}
