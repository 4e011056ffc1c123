package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"voiceagent/core"
)

const channelBuffer = 100

// Runner chains handlers so that each handler's next-output feeds the
// following handler's input. Packets sent to the top are re-injected at the
// first handler as next-destination packets so every handler observes them.
type Runner struct {
	Handlers []core.IHandler

	logger   *core.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	topChan  chan *core.EventPacket
	lastChan chan *core.EventPacket
	inputs   []chan *core.EventPacket

	finished   chan struct{}
	finishOnce sync.Once
	reason     string
	stopOnce   sync.Once
}

func NewRunner(handlers []core.IHandler, logger *core.Logger) *Runner {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Runner{
		Handlers: handlers,
		logger:   logger,
		finished: make(chan struct{}),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if len(r.Handlers) == 0 {
		return errors.New("runner: no handlers")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.topChan = make(chan *core.EventPacket, channelBuffer)
	r.lastChan = make(chan *core.EventPacket, channelBuffer)

	r.inputs = make([]chan *core.EventPacket, len(r.Handlers))
	for i := range r.inputs {
		r.inputs[i] = make(chan *core.EventPacket, channelBuffer)
	}

	for i, handler := range r.Handlers {
		next := r.lastChan
		if i < len(r.Handlers)-1 {
			next = r.inputs[i+1]
		}

		if err := handler.Initialize(r.inputs[i], next, r.topChan, r.ctx); err != nil {
			r.cancel()
			return fmt.Errorf("runner: initialize handler %d: %w", i, err)
		}
		if err := handler.Start(); err != nil {
			r.cancel()
			return fmt.Errorf("runner: start handler %d: %w", i, err)
		}
	}

	go r.listen()
	return nil
}

// Inject pushes an event into the first handler as if it came from the top.
func (r *Runner) Inject(event core.IEvent, relayer string) {
	if r.ctx == nil {
		return
	}
	select {
	case r.topChan <- core.NewEventPacket(event, core.EventRelayDestinationTopService, relayer):
	case <-r.ctx.Done():
	}
}

// Finished is closed once the pipeline asked to end the session.
func (r *Runner) Finished() <-chan struct{} {
	return r.finished
}

// Reason reports why the runner finished. Empty while running.
func (r *Runner) Reason() string {
	select {
	case <-r.finished:
		return r.reason
	default:
		return ""
	}
}

func (r *Runner) finish(reason string) {
	r.finishOnce.Do(func() {
		r.reason = reason
		close(r.finished)
	})
}

func (r *Runner) listen() {
	for {
		select {
		case <-r.lastChan:
			// Terminal output is already delivered by the transport output handler.
		case packet := <-r.topChan:
			r.processTop(packet)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Runner) processTop(packet *core.EventPacket) {
	switch event := packet.Event.(type) {
	case *core.CriticalErrorEvent:
		r.logger.Error("critical pipeline error", "error", event.Error, "relayer", packet.Relayer)
		r.finish(core.EndReasonCriticalError)
		return
	case *core.EndCallEvent:
		r.logger.Info("end call requested", "reason", event.Reason, "relayer", packet.Relayer)
		r.finish(event.Reason)
		return
	}

	echo := &core.EventPacket{
		Event:       packet.Event,
		Destination: core.EventRelayDestinationNextService,
		Uid:         packet.Uid,
		Relayer:     packet.Relayer,
	}
	select {
	case r.inputs[0] <- echo:
	case <-r.ctx.Done():
	}
}

// Stop cancels every handler and runs their cleanup. Safe to call twice.
func (r *Runner) Stop() error {
	var errs []error
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.finish(core.EndReasonCancelled)
		for _, handler := range r.Handlers {
			if err := handler.Cleanup(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (r *Runner) Reset() error {
	var errs []error
	for _, handler := range r.Handlers {
		if err := handler.Reset(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
