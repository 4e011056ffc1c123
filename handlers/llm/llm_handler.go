package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"voiceagent/core"
	"voiceagent/events/llm"
	"voiceagent/events/vad"
)

// LLMService streams a completion for llmCtx into out. It returns once the
// stream is exhausted or ctx is done.
type LLMService interface {
	core.IService
	RunCompletion(ctx context.Context, llmCtx core.LLMContext, out chan<- string) error
}

type LLMHandler struct {
	*core.BaseHandler
	config LLMHandlerConfig

	// OnFirstToken observes the delay between a request and its first chunk.
	OnFirstToken func(time.Duration)

	mu        sync.Mutex
	cancel    context.CancelFunc
	requestID string
}

// NewLLMHandler creates a new LLM handler. Backups are tried in order when
// the active service reports a fatal error.
func NewLLMHandler(service LLMService, backups []LLMService, config LLMHandlerConfig, logger *core.Logger) *LLMHandler {
	backupServices := make([]core.IService, 0, len(backups))
	for _, b := range backups {
		backupServices = append(backupServices, b)
	}
	return &LLMHandler{
		BaseHandler: core.NewBaseHandler("LLMHandler", service, backupServices, logger),
		config:      config,
	}
}

func (h *LLMHandler) Start() error {
	go func() {
		for {
			select {
			case packet := <-h.InputChan:
				h.HandleEvent(packet)
			case <-h.Ctx.Done():
				h.cancelInFlight()
				return
			}
		}
	}()
	return nil
}

func (h *LLMHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *llm.LLMGenerateResponseEvent:
		h.generate(event)
		return nil
	case *vad.VadInterruptionConfirmedEvent:
		if h.config.CancelOnInterruption {
			h.cancelInFlight()
		}
	}
	h.SendPacket(packet)
	return nil
}

// generate cancels any running completion and starts a new one.
func (h *LLMHandler) generate(event *llm.LLMGenerateResponseEvent) {
	h.cancelInFlight()

	service, ok := h.CurrentService().(LLMService)
	if !ok {
		h.Emit(&llm.LLMResponseFailedEvent{RequestID: event.RequestID, Error: "no llm service"}, core.EventRelayDestinationNextService)
		return
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if h.config.ResponseTimeout > 0 {
		runCtx, cancel = context.WithTimeout(h.Ctx, h.config.ResponseTimeout)
	} else {
		runCtx, cancel = context.WithCancel(h.Ctx)
	}
	h.mu.Lock()
	h.cancel = cancel
	h.requestID = event.RequestID
	h.mu.Unlock()

	h.Emit(&llm.LLMResponseStartedEvent{RequestID: event.RequestID}, core.EventRelayDestinationNextService)
	go h.run(runCtx, cancel, service, event)
}

func (h *LLMHandler) run(ctx context.Context, cancel context.CancelFunc, service LLMService, event *llm.LLMGenerateResponseEvent) {
	defer cancel()

	messages := requestContext(event)
	out := make(chan string, 16)
	done := make(chan error, 1)
	started := time.Now()
	go func() {
		done <- service.RunCompletion(ctx, messages, out)
	}()

	var full strings.Builder
	first := true
	emitChunk := func(chunk string) {
		if chunk == "" {
			return
		}
		if first {
			first = false
			ttft := time.Since(started)
			h.Logger.Debug("first token", "request_id", event.RequestID, "ttft_ms", ttft.Milliseconds())
			if h.OnFirstToken != nil {
				h.OnFirstToken(ttft)
			}
		}
		full.WriteString(chunk)
		h.Emit(&llm.LLMResponseChunkEvent{RequestID: event.RequestID, Chunk: chunk}, core.EventRelayDestinationNextService)
	}

	var err error
loop:
	for {
		select {
		case chunk := <-out:
			if ctx.Err() == nil {
				emitChunk(chunk)
			}
		case err = <-done:
			// drain what the service wrote before returning
			for {
				select {
				case chunk := <-out:
					if ctx.Err() == nil {
						emitChunk(chunk)
					}
				default:
					break loop
				}
			}
		}
	}

	h.clearInFlight(event.RequestID)

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		h.Logger.Info("completion cancelled", "request_id", event.RequestID)
		h.Emit(&llm.LLMResponseFailedEvent{RequestID: event.RequestID, Cancelled: true}, core.EventRelayDestinationNextService)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		h.Logger.Warn("completion timed out", "request_id", event.RequestID)
		h.Emit(&llm.LLMResponseFailedEvent{RequestID: event.RequestID, Error: ctx.Err().Error()}, core.EventRelayDestinationNextService)
	case err != nil:
		h.Logger.Error("completion failed", "request_id", event.RequestID, "error", err)
		h.Emit(&llm.LLMResponseFailedEvent{RequestID: event.RequestID, Error: err.Error()}, core.EventRelayDestinationNextService)
		h.HandleError(err)
	default:
		h.Emit(&llm.LLMResponseCompletedEvent{RequestID: event.RequestID, FullText: full.String()}, core.EventRelayDestinationNextService)
	}
}

// requestContext appends the one-shot instructions, if any, after the
// history without touching the caller's slice.
func requestContext(event *llm.LLMGenerateResponseEvent) core.LLMContext {
	if event.Instructions == "" {
		return event.Context
	}
	ctx := event.Context.Clone()
	ctx.AddSystemMessage(event.Instructions)
	return ctx
}

func (h *LLMHandler) cancelInFlight() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.requestID = ""
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *LLMHandler) clearInFlight(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.requestID == requestID {
		h.cancel = nil
		h.requestID = ""
	}
}

func (h *LLMHandler) Reset() error {
	h.cancelInFlight()
	return h.BaseHandler.Reset()
}
