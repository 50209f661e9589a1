package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/haukened/callguard/internal/guard/common/clock"
	"github.com/haukened/callguard/internal/guard/common/log"
	"github.com/haukened/callguard/internal/guard/common/metrics"
	"github.com/haukened/callguard/internal/guard/config"
	"github.com/haukened/callguard/internal/guard/domain"
	"github.com/haukened/callguard/internal/guard/gateways/control"
	"github.com/haukened/callguard/internal/guard/gateways/mitigation"
	"github.com/haukened/callguard/internal/guard/gateways/telephony"
	"github.com/haukened/callguard/internal/guard/gateways/wire"
	"github.com/haukened/callguard/internal/guard/repos/blocklist"
	"github.com/haukened/callguard/internal/guard/repos/blocklist/bloom"
	"github.com/haukened/callguard/internal/guard/repos/blocklist/bolt"
	"github.com/haukened/callguard/internal/guard/repos/blocklist/lru"
	"github.com/haukened/callguard/internal/guard/repos/eventlog"
	"github.com/haukened/callguard/internal/guard/services/calltracker"
	"github.com/haukened/callguard/internal/guard/services/messages"
	"github.com/haukened/callguard/internal/guard/services/screening"
	"github.com/haukened/callguard/internal/guard/services/supervisor"
)

const (
	version = "0.1.0-dev"
	appName = "callguardd"

	defaultShutdownTimeout = 10 * time.Second
	changeBuffer           = 64
)

// Application holds all the components of the interception daemon
type Application struct {
	config     *config.AppConfig
	source     *telephony.UDPSource
	control    *control.Server
	supervisor *supervisor.Supervisor
	blocklist  blocklist.Repository
	closers    []io.Closer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	err = log.Configure(cfg.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":      version,
		"env":          cfg.Env,
		"log_level":    cfg.Log.Level,
		"blocklist_db": cfg.Blocklist.DB,
		"eventlog_db":  cfg.EventLog.DB,
		"bridge":       cfg.Bridge.Listen,
		"control":      cfg.Control.Listen,
		"commands":     len(cfg.Mitigation.Commands),
	}, "Starting "+appName)

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Daemon failed")
	}

	log.Info(nil, appName+" stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (app *Application, err error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	var closers []io.Closer
	defer func() {
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
		}
	}()

	// Repository layer
	store, err := bolt.New(cfg.Blocklist.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open blocklist store: %w", err)
	}
	closers = append(closers, store)

	cache, err := lru.New(cfg.Blocklist.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}

	repo, err := blocklist.NewRepository(blocklist.Options{
		Store:   store,
		Cache:   cache,
		Factory: bloom.NewFactory(),
		FPRate:  cfg.Blocklist.BloomFPRate,
		Clock:   clk,
		Logger:  log.Named(logger, "blocklist"),
		Metrics: m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build blocklist: %w", err)
	}
	log.Info(map[string]any{
		"db":         cfg.Blocklist.DB,
		"entries":    repo.RepoStats().Store.Entries,
		"cache_size": cfg.Blocklist.CacheSize,
	}, "Blocklist opened")

	events, err := eventlog.New(cfg.EventLog.DB, eventlog.Options{
		MaxEntries: cfg.EventLog.MaxEntries,
		Logger:     log.Named(logger, "eventlog"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	closers = append(closers, events)

	// Gateway and service layer
	codec := wire.NewTextCodec()
	screener := screening.New(screening.Options{
		Blocklist: repo,
		Events:    events,
		Clock:     clk,
		Logger:    log.Named(logger, "screening"),
		Metrics:   m,
	})
	source := telephony.NewUDPSource(cfg.Bridge.Listen, codec, screener, log.Named(logger, "bridge"), m)

	chain, err := buildMitigation(cfg, source, codec, logger, m)
	if err != nil {
		return nil, err
	}

	tracker := calltracker.New(calltracker.Options{
		Blocklist:  repo,
		Events:     events,
		Terminator: chain,
		Clock:      clk,
		Logger:     log.Named(logger, "calltracker"),
		Metrics:    m,
	})
	interceptor := messages.New(messages.Options{
		Blocklist: repo,
		Events:    events,
		Consumers: []messages.Consumer{messages.LogConsumer(log.Named(logger, "inbox"))},
		Clock:     clk,
		Logger:    log.Named(logger, "messages"),
		Metrics:   m,
	})

	var indicator supervisor.Indicator
	if cfg.Indicator.Path != "" {
		indicator = supervisor.StatusFile{Path: cfg.Indicator.Path, Clock: clk}
	}
	sup := supervisor.New(supervisor.Options{
		Tracker:     tracker,
		Messages:    interceptor,
		Blocklist:   repo,
		Source:      source,
		Indicator:   indicator,
		Permissions: domain.NewStaticPermissions(cfg.Permissions.Granted),
		Logger:      log.Named(logger, "supervisor"),
		Metrics:     m,
	})

	ctl, err := control.New(control.Options{
		Addr:         cfg.Control.Listen,
		Blocklist:    repo,
		Interception: sup,
		Events:       events,
		Permissions:  domain.NewStaticPermissions(cfg.Permissions.Granted),
		Gatherer:     reg,
		RateLimit:    cfg.Control.RateLimit,
		Burst:        cfg.Control.Burst,
		Logger:       log.Named(logger, "control"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build control server: %w", err)
	}

	return &Application{
		config:     cfg,
		source:     source,
		control:    ctl,
		supervisor: sup,
		blocklist:  repo,
		closers:    closers,
	}, nil
}

// buildMitigation assembles the termination chain: configured commands first,
// then the bridge HANGUP when enabled.
func buildMitigation(cfg *config.AppConfig, sender mitigation.Sender, codec wire.Codec, logger log.Logger, m *metrics.Metrics) (*mitigation.Chain, error) {
	var strategies []mitigation.Strategy
	for _, line := range cfg.Mitigation.Commands {
		cmd, err := mitigation.ParseCommand(line, cfg.Mitigation.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid mitigation command %q: %w", line, err)
		}
		strategies = append(strategies, cmd)
	}
	if cfg.Mitigation.Bridge {
		strategies = append(strategies, mitigation.BridgeStrategy{Sender: sender, Codec: codec})
	}
	chain := mitigation.NewChain(log.Named(logger, "mitigation"), m, strategies...)
	if chain.Len() == 0 {
		log.Warn(nil, "No mitigation strategies configured; blocked calls will be logged but not terminated")
	}
	return chain, nil
}

// Run starts the bridge listener, interception and the control surface, then
// blocks until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	if err := app.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge listener: %w", err)
	}

	state, err := app.supervisor.Start(ctx)
	if err != nil {
		log.Warn(map[string]any{"error": err.Error(), "state": state}, "Interception not started")
	}

	if err := app.control.Start(ctx); err != nil {
		_ = app.source.Stop()
		return fmt.Errorf("failed to start control server: %w", err)
	}

	changes, stopWatch := app.blocklist.Watch(changeBuffer)
	go logChanges(changes)

	log.Info(map[string]any{
		"bridge":       app.source.Address(),
		"control":      app.control.Address(),
		"interception": state,
	}, "Daemon started")

	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")
	stopWatch()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	var errs error
	if err := app.control.Stop(shutdownCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("control shutdown: %w", err))
	}
	if _, err := app.supervisor.Stop(); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Error stopping interception")
	}
	if err := app.source.Stop(); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Error during bridge shutdown")
	}
	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if shutdownCtx.Err() != nil {
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
	if errs == nil {
		log.Info(nil, "Graceful shutdown completed")
	}
	return errs
}

func logChanges(changes <-chan domain.Change) {
	for c := range changes {
		log.Debug(map[string]any{
			"kind":       c.Kind.String(),
			"identifier": c.Entry.Identifier,
			"row":        c.Entry.Row,
		}, "Blocklist changed")
	}
}
