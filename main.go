package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"voiceagent/core"
	"voiceagent/factories"
	"voiceagent/metrics"
)

func main() {
	core.SetLogger(*core.NewLoggerFromEnv())
	logger := core.GetLogger().With(map[string]any{"component": "worker"})

	factories.LoadEnvFiles(logger)
	// The logger is rebuilt so LOG_LEVEL and LOG_FORMAT from .env.local apply.
	core.SetLogger(*core.NewLoggerFromEnv())
	logger = core.GetLogger().With(map[string]any{"component": "worker"})
	factories.LogCredentials(logger)

	settings, err := factories.LoadSettings()
	if err != nil {
		logger.Warn("failed to load settings, using defaults", "error", err)
	}
	if !settings.LiveKit.Configured() {
		logger.Error("LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	provider, err := settings.BuildLiveKitProvider(collector.Handler(), core.GetLogger())
	if err != nil {
		logger.Error("failed to create worker", "error", err)
		os.Exit(1)
	}

	keys := factories.APIKeysFromEnv()
	pipeline := factories.NewPipeline(
		factories.SessionBuilderFor(settings.Session, keys, collector),
		factories.PipelineConfig{Timeout: settings.Worker.SessionTimeout()},
		collector,
		core.GetLogger(),
	)

	logger.Info("starting voice agent", "agent", settings.Worker.AgentName)
	if err := pipeline.Serve(ctx, provider); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}
