// Command dispatch serves the voice consultation endpoint that creates a
// LiveKit room for a patient and returns their join token.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voiceagent/core"
	"voiceagent/dispatch"
	"voiceagent/factories"
)

const defaultAddr = ":3001"

func main() {
	core.SetLogger(*core.NewLoggerFromEnv())
	logger := core.GetLogger().With(map[string]any{"component": "dispatch"})
	factories.LoadEnvFiles(logger)
	core.SetLogger(*core.NewLoggerFromEnv())
	logger = core.GetLogger().With(map[string]any{"component": "dispatch"})

	settings, err := factories.LoadSettings()
	if err != nil {
		logger.Warn("failed to load settings, using defaults", "error", err)
	}
	cfg := dispatch.Config{
		URL:       settings.LiveKit.URL,
		APIKey:    settings.LiveKit.APIKey,
		APISecret: settings.LiveKit.APISecret,
		AgentName: settings.Worker.AgentName,
	}
	if !cfg.Configured() {
		logger.Warn("LiveKit credentials missing, voice requests will return 503")
	}

	addr := os.Getenv("DISPATCH_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           dispatch.NewServer(cfg, nil, core.GetLogger()).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dispatch listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("dispatch server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatch shutdown", "error", err)
	}
}
