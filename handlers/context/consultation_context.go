package context

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"voiceagent/consultation"
	"voiceagent/core"
	"voiceagent/events/llm"
	"voiceagent/utils/text"
)

var ErrGreetingTimeout = errors.New("greeting: no reply before timeout")

// ConsultationContext owns the conversation history for one session. It is
// shared by the user and assistant aggregators that sit on either side of the
// LLM handler.
type ConsultationContext struct {
	mu      sync.Mutex
	history *core.LLMContext
	session consultation.SessionConfig
	config  ContextConfig
	fillers *text.FillerFilter
	logger  *core.Logger

	waiters map[string]chan error

	user      *UserContextHandler
	assistant *AssistantContextHandler
}

func NewConsultationContext(session consultation.SessionConfig, config ContextConfig, logger *core.Logger) *ConsultationContext {
	if config.GreetingTimeout <= 0 {
		config.GreetingTimeout = DefaultConfig().GreetingTimeout
	}
	if config.Language == "" {
		config.Language = text.ENGLISH
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	c := &ConsultationContext{
		history: core.NewLLMContext(session.Instructions()),
		session: session,
		config:  config,
		fillers: text.NewFillerFilter(config.Language),
		logger:  logger,
		waiters: make(map[string]chan error),
	}
	c.user = newUserContextHandler(c, logger)
	c.assistant = newAssistantContextHandler(c, logger)
	return c
}

// UserHandler sits between STT and the LLM.
func (c *ConsultationContext) UserHandler() *UserContextHandler { return c.user }

// AssistantHandler sits between the LLM and TTS.
func (c *ConsultationContext) AssistantHandler() *AssistantContextHandler { return c.assistant }

// Snapshot returns a copy of the history.
func (c *ConsultationContext) Snapshot() core.LLMContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Clone()
}

func (c *ConsultationContext) addUser(text string) core.LLMContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history.AddUserMessage(text)
	return c.history.Clone()
}

func (c *ConsultationContext) addAssistant(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history.AddAssistantMessage(text)
}

// Greet requests the opening reply. The greeting instruction is sent as a
// one-off system message and never stored in the history. It returns once
// the reply completes, or ErrGreetingTimeout.
func (c *ConsultationContext) Greet(ctx context.Context) error {
	id := uuid.NewString()
	done := make(chan error, 1)

	c.mu.Lock()
	c.waiters[id] = done
	snapshot := c.history.Clone()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}()

	c.user.Emit(&llm.LLMGenerateResponseEvent{
		RequestID:    id,
		Context:      snapshot,
		Instructions: c.session.GreetingInstruction(),
	}, core.EventRelayDestinationNextService)

	timer := time.NewTimer(c.config.GreetingTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrGreetingTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ConsultationContext) resolve(requestID string, err error) {
	c.mu.Lock()
	done, ok := c.waiters[requestID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case done <- err:
	default:
	}
}

func responseError(e *llm.LLMResponseFailedEvent) error {
	if e.Cancelled {
		return fmt.Errorf("response %s cancelled", e.RequestID)
	}
	return fmt.Errorf("response %s failed: %s", e.RequestID, e.Error)
}
