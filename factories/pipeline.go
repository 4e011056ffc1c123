package factories

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"voiceagent/consultation"
	"voiceagent/core"
	"voiceagent/handlers/transport"
	"voiceagent/metrics"
	"voiceagent/runner"
)

// PipelineConfig configures a Pipeline's lifecycle behaviour.
type PipelineConfig struct {
	// Timeout caps a session. Zero waits for disconnect.
	Timeout time.Duration
}

// Session is one consultation's built pipeline.
type Session interface {
	Handlers() []core.IHandler
	Greet(ctx context.Context) error
}

// SessionBuilder creates the pipeline for one job from its persona.
type SessionBuilder func(ctx context.Context, persona consultation.SessionConfig, svc transport.ITransportService, logger *core.Logger) (Session, error)

// Pipeline builds and runs a consultation for every transport job.
type Pipeline struct {
	config  PipelineConfig
	builder SessionBuilder
	metrics *metrics.Collector
	logger  *core.Logger
}

// NewPipeline creates a Pipeline that uses builder per job. A nil collector
// disables metrics.
func NewPipeline(builder SessionBuilder, config PipelineConfig, collector *metrics.Collector, logger *core.Logger) *Pipeline {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Pipeline{
		builder: builder,
		config:  config,
		metrics: collector,
		logger:  logger,
	}
}

// SessionBuilderFor builds sessions from settings and keys, reporting
// time-to-first-token and interruptions to collector.
func SessionBuilderFor(config SessionConfig, keys APIKeys, collector *metrics.Collector) SessionBuilder {
	return func(_ context.Context, persona consultation.SessionConfig, svc transport.ITransportService, logger *core.Logger) (Session, error) {
		handlers, err := config.BuildHandlers(persona, svc, keys, logger)
		if err != nil {
			return nil, err
		}
		handlers.LLM.OnFirstToken = collector.FirstToken
		handlers.Activity.OnInterruption = collector.Interruption
		return handlers, nil
	}
}

// Run serves a single job: it derives the persona from the room metadata,
// starts the pipeline, greets the patient and blocks until the session ends.
func (p *Pipeline) Run(ctx context.Context, job transport.Job) error {
	base := core.LoggerFromContext(ctx, p.logger)
	logger := base.With(map[string]any{"component": "pipeline", "room": job.RoomName})

	if ctx.Err() != nil {
		logger.Info("context already cancelled, skipping job")
		return nil
	}
	if job.Transport == nil {
		logger.Warn("nil transport service, skipping job")
		return nil
	}

	persona, err := consultation.ParseRoomMetadata(job.Metadata, base)
	if err != nil {
		logger.Warn("room metadata unusable, using default persona", "error", err)
		p.metrics.MetadataFallback()
	}

	session, err := p.builder(ctx, persona, job.Transport, base)
	if err != nil {
		logger.Error("failed to build handlers", "error", err)
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := runner.NewRunner(session.Handlers(), base)
	if err := r.Start(sessionCtx); err != nil {
		logger.Error("runner failed to start", "error", err)
		r.Stop()
		return err
	}
	started := time.Now()
	p.metrics.SessionStarted()
	logger.Info("session started")

	go func() {
		if err := session.Greet(sessionCtx); err != nil {
			if sessionCtx.Err() != nil {
				return
			}
			logger.Warn("greeting failed", "error", err)
			p.metrics.GreetingFailed()
		}
	}()

	var timerC <-chan time.Time
	if p.config.Timeout > 0 {
		timer := time.NewTimer(p.config.Timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	var result error
	reason := core.EndReasonCancelled
	select {
	case <-ctx.Done():
		logger.Info("context cancelled, stopping runner")
	case <-timerC:
		logger.Warn("timeout reached, stopping runner")
		reason = core.EndReasonTimeout
		result = context.DeadlineExceeded
	case <-r.Finished():
		reason = r.Reason()
		logger.Info("runner finished", "reason", reason)
	}

	cancel()
	if err := r.Stop(); err != nil {
		logger.Warn("runner cleanup", "error", err)
	}
	p.metrics.SessionEnded(reason, time.Since(started))

	// ONNX tensors are C allocations the Go GC does not account for, so
	// RSS climbs per session unless memory is returned explicitly.
	runtime.GC()
	debug.FreeOSMemory()
	logger.Info("session ended", "reason", reason, "duration", time.Since(started).String())

	return result
}

// Serve registers Run with the provider, starts it and blocks until ctx is
// cancelled. It then drains the provider.
func (p *Pipeline) Serve(ctx context.Context, provider transport.ITransportProvider) error {
	logger := p.logger.With(map[string]any{"component": "pipeline"})

	if err := provider.RegisterJobHandler(p.Run); err != nil {
		logger.Error("failed to register job handler", "error", err)
		return err
	}
	if err := provider.Start(); err != nil {
		logger.Error("provider failed to start", "error", err)
		return err
	}

	logger.Info("provider started, waiting for jobs")
	<-ctx.Done()

	logger.Info("stopping provider")
	if err := provider.Stop(); err != nil {
		logger.Error("error stopping provider", "error", err)
	}
	return nil
}
