package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent/core"
	"voiceagent/events/llm"
	"voiceagent/events/vad"
)

type fakeLLM struct {
	chunks []string
	block  bool
	// blockFirst blocks only the first call.
	blockFirst bool
	calls      atomic.Int32
	err        error
	lastCtx    chan core.LLMContext
}

func (f *fakeLLM) Initialize(ctx context.Context) error { return nil }
func (f *fakeLLM) Cleanup() error                       { return nil }
func (f *fakeLLM) Reset() error                         { return nil }

func (f *fakeLLM) RunCompletion(ctx context.Context, llmCtx core.LLMContext, out chan<- string) error {
	call := f.calls.Add(1)
	if f.lastCtx != nil {
		f.lastCtx <- llmCtx
	}
	for _, c := range f.chunks {
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.block || (f.blockFirst && call == 1) {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

type harness struct {
	handler *LLMHandler
	next    chan *core.EventPacket
	top     chan *core.EventPacket
}

func newHarness(t *testing.T, primary LLMService, backups ...LLMService) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		handler: NewLLMHandler(primary, backups, DefaultConfig(), core.NewLogger(nil)),
		next:    make(chan *core.EventPacket, 100),
		top:     make(chan *core.EventPacket, 100),
	}
	require.NoError(t, h.handler.Initialize(make(chan *core.EventPacket), h.next, h.top, ctx))
	return h
}

// until reads next-destination events until one matches stop.
func (h *harness) until(t *testing.T, stop func(core.IEvent) bool) []core.IEvent {
	t.Helper()
	var seen []core.IEvent
	for {
		select {
		case p := <-h.next:
			seen = append(seen, p.Event)
			if stop(p.Event) {
				return seen
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out, saw %d events", len(seen))
			return seen
		}
	}
}

func terminal(e core.IEvent) bool {
	switch e.(type) {
	case *llm.LLMResponseCompletedEvent, *llm.LLMResponseFailedEvent:
		return true
	}
	return false
}

func pkt(e core.IEvent) *core.EventPacket {
	return core.NewEventPacket(e, core.EventRelayDestinationNextService, "test")
}

func TestStreamsChunksThenCompletes(t *testing.T) {
	svc := &fakeLLM{chunks: []string{"Hello", " there."}}
	h := newHarness(t, svc)

	var ttft time.Duration
	h.handler.OnFirstToken = func(d time.Duration) { ttft = d }

	h.handler.HandleEvent(pkt(&llm.LLMGenerateResponseEvent{RequestID: "r1"}))
	events := h.until(t, terminal)

	require.Len(t, events, 4)
	assert.Equal(t, &llm.LLMResponseStartedEvent{RequestID: "r1"}, events[0])
	assert.Equal(t, "Hello", events[1].(*llm.LLMResponseChunkEvent).Chunk)
	assert.Equal(t, " there.", events[2].(*llm.LLMResponseChunkEvent).Chunk)
	done := events[3].(*llm.LLMResponseCompletedEvent)
	assert.Equal(t, "r1", done.RequestID)
	assert.Equal(t, "Hello there.", done.FullText)
	assert.GreaterOrEqual(t, ttft, time.Duration(0))
}

func TestInstructionsAppendedForOneRequest(t *testing.T) {
	svc := &fakeLLM{lastCtx: make(chan core.LLMContext, 1)}
	h := newHarness(t, svc)

	history := core.NewLLMContext("persona")
	req := &llm.LLMGenerateResponseEvent{RequestID: "g", Context: *history, Instructions: "greet"}
	h.handler.HandleEvent(pkt(req))

	sent := <-svc.lastCtx
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, core.LLMMessage{Role: core.LLMMessageRoleSystem, Message: "greet"}, sent.Messages[1])
	assert.Len(t, req.Context.Messages, 1)
	h.until(t, terminal)
}

func TestNewRequestCancelsInFlight(t *testing.T) {
	svc := &fakeLLM{chunks: []string{"partial"}, blockFirst: true}
	h := newHarness(t, svc)

	h.handler.HandleEvent(pkt(&llm.LLMGenerateResponseEvent{RequestID: "old"}))
	h.until(t, func(e core.IEvent) bool { _, ok := e.(*llm.LLMResponseChunkEvent); return ok })

	h.handler.HandleEvent(pkt(&llm.LLMGenerateResponseEvent{RequestID: "new"}))

	var cancelled, completed bool
	for !(cancelled && completed) {
		events := h.until(t, terminal)
		switch e := events[len(events)-1].(type) {
		case *llm.LLMResponseFailedEvent:
			assert.Equal(t, "old", e.RequestID)
			assert.True(t, e.Cancelled)
			cancelled = true
		case *llm.LLMResponseCompletedEvent:
			assert.Equal(t, "new", e.RequestID)
			completed = true
		}
	}
}

func TestConfirmedInterruptionCancels(t *testing.T) {
	svc := &fakeLLM{block: true}
	h := newHarness(t, svc)

	h.handler.HandleEvent(pkt(&llm.LLMGenerateResponseEvent{RequestID: "r"}))
	h.until(t, func(e core.IEvent) bool { _, ok := e.(*llm.LLMResponseStartedEvent); return ok })

	h.handler.HandleEvent(pkt(&vad.VadInterruptionConfirmedEvent{}))

	events := h.until(t, terminal)
	failed, ok := events[len(events)-1].(*llm.LLMResponseFailedEvent)
	require.True(t, ok)
	assert.True(t, failed.Cancelled)
	assert.Contains(t, events, core.IEvent(&vad.VadInterruptionConfirmedEvent{}))
}

func TestServiceErrorFailsOverToBackup(t *testing.T) {
	primary := &fakeLLM{err: errors.New("503")}
	backup := &fakeLLM{chunks: []string{"ok"}}
	h := newHarness(t, primary, backup)

	h.handler.HandleEvent(pkt(&llm.LLMGenerateResponseEvent{RequestID: "r"}))
	events := h.until(t, terminal)
	failed := events[len(events)-1].(*llm.LLMResponseFailedEvent)
	assert.False(t, failed.Cancelled)
	assert.Equal(t, "503", failed.Error)

	select {
	case p := <-h.top:
		assert.IsType(t, &core.WarningEvent{}, p.Event)
	case <-time.After(time.Second):
		t.Fatal("no failover warning")
	}
	assert.Same(t, backup, h.handler.CurrentService())
}
