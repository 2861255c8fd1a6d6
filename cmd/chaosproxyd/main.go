// Command chaosproxyd runs the chaos interception proxy: the data-path
// listener, the control plane, and the event pipeline, driven by a
// declarative chaos plan.
//
// Exit codes: 0 success, 1 plan load failure, 2 port bind failure,
// 3 tape I/O failure, 4 strict-mode dependency missing.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
	"github.com/agentchaos/chaosproxy/pkg/chaosplan"
	"github.com/agentchaos/chaosproxy/pkg/chaosproxy"
	"github.com/agentchaos/chaosproxy/pkg/controlplane"
	"github.com/agentchaos/chaosproxy/pkg/dashboard"
	"github.com/agentchaos/chaosproxy/pkg/defaults"
	"github.com/agentchaos/chaosproxy/pkg/event"
	"github.com/agentchaos/chaosproxy/pkg/eventlog"
	"github.com/agentchaos/chaosproxy/pkg/interceptor"
	"github.com/agentchaos/chaosproxy/pkg/pii"
	"github.com/agentchaos/chaosproxy/pkg/scorecard"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("chaosproxyd", flag.ExitOnError)
	var (
		planPath    = fs.String("plan", "chaos-plan.yaml", "chaos plan file")
		listenAddr  = fs.String("listen", defaults.ProxyListenAddr, "data-path listen address")
		controlAddr = fs.String("control", defaults.ControlListenAddr, "control-plane listen address")
		upstream    = fs.String("upstream", "", "upstream base URL for reverse-proxy routing")
		mode        = fs.String("mode", string(chaosplan.ModeLive), "initial mode: live, record, playback")
		tapePath    = fs.String("tape", "", "tape file for record/playback")
		eventLog    = fs.String("eventlog", "", "NDJSON event log path")
	)
	_ = fs.Parse(os.Args[1:])

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := chaosproxy.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Plan load: all failures at once, exit 1.
	plan, err := chaosplan.LoadPlan(*planPath, chaosplan.LoadOptions{
		StrictClassifier: cfg.StrictClassifier,
	})
	if err != nil {
		logger.Error("plan load failed", "err", err)
		return defaults.ExitPlanLoad
	}

	// Strict-mode dependencies fail fast, exit 4.
	auth, err := controlplane.NewAuth(controlplane.AuthConfig{
		Token:     cfg.ControlToken,
		ReadKeys:  cfg.ReadKeys,
		AdminKeys: cfg.AdminKeys,
		JWTStrict: cfg.JWTStrict,
		JWTSecret: cfg.JWTSecret,
	})
	if err != nil {
		logger.Error("strict-mode dependency missing", "err", err)
		return defaults.ExitStrictDependency
	}

	telemetry, err := chaosproxy.SetupTelemetry(ctx, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("telemetry setup failed", "err", err)
		return defaults.ExitStrictDependency
	}
	defer func() { _ = telemetry.Shutdown(context.Background()) }()

	// Event pipeline: bus feeding log sink, dashboard fan-out, scorecard.
	bus := event.NewBus(event.Config{Capacity: defaults.EventQueueCapacity, Logger: logger})
	redactor := pii.New(cfg.PIIRedaction)
	metrics := scorecard.NewMetrics()
	aggregator := scorecard.NewAggregator(metrics)
	fanout := dashboard.NewFanout(logger)
	bus.Register(aggregator)
	bus.Register(fanout)
	if *eventLog != "" {
		sink, err := eventlog.Open(*eventLog, logger)
		if err != nil {
			logger.Error("event log open failed", "path", *eventLog, "err", err)
			return defaults.ExitTapeIO
		}
		defer func() { _ = sink.Close() }()
		bus.Register(sink)
	}
	bus.Start(ctx)
	defer bus.Close()
	defer fanout.Close()

	engine, err := chaosproxy.NewEngine(plan, chaosproxy.Options{
		Config: cfg,
		Bus:    bus,
		Logger: logger,
		Tracer: telemetry.Tracer(),
	})
	if err != nil {
		logger.Error("plan compile failed", "err", err)
		return defaults.ExitPlanLoad
	}
	if err := engine.SetMode(chaosplan.Mode(*mode), *tapePath); err != nil {
		logger.Error("mode init failed", "mode", *mode, "err", err)
		if errors.Is(err, chaoserrors.ErrTapeIO) {
			return defaults.ExitTapeIO
		}
		return defaults.ExitPlanLoad
	}

	proxy, err := interceptor.New(interceptor.Options{
		Engine:   engine,
		Upstream: *upstream,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("interceptor setup failed", "err", err)
		return defaults.ExitPlanLoad
	}

	control, err := controlplane.New(controlplane.Options{
		Engine:     engine,
		Aggregator: aggregator,
		Bus:        bus,
		Fanout:     fanout,
		Metrics:    metrics,
		Auth:       auth,
		PlanOpts:   chaosplan.LoadOptions{StrictClassifier: cfg.StrictClassifier},
		Redactor:   redactor,
		AuditPath:  cfg.AuditLogPath,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("control plane setup failed", "err", err)
		return defaults.ExitTapeIO
	}

	errCh := make(chan error, 2)
	go func() { errCh <- proxy.ListenAndServe(ctx, *listenAddr) }()
	go func() { errCh <- control.ListenAndServe(ctx, *controlAddr) }()

	logger.Info("chaosproxy started",
		"version", chaosproxy.Version,
		"plan", plan.Metadata.Name,
		"revision", plan.Revision,
		"mode", engine.Mode(),
		"listen", *listenAddr,
		"control", *controlAddr,
	)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("listener failed", "err", err)
			return defaults.ExitPortBind
		}
	case <-ctx.Done():
	}

	// Graceful shutdown: flush the tape; a flush failure in record mode is
	// the tape I/O exit.
	if err := engine.Shutdown(); err != nil {
		logger.Error("tape flush failed", "err", err)
		return defaults.ExitTapeIO
	}
	summary := aggregator.Summary(bus.Drops())
	logger.Info("run complete",
		"total_requests", summary.TotalRequests,
		"chaos_injections", summary.ChaosInjections,
		"event_drops", summary.EventDrops,
	)
	return defaults.ExitSuccess
}
