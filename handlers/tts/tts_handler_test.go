package tts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent/core"
	"voiceagent/events/llm"
	"voiceagent/events/tts"
	"voiceagent/events/vad"
)

type fakeTTS struct {
	mu      sync.Mutex
	out     chan<- core.SynthesisFrame
	texts   []string
	cleared int
	// hold keeps flushed text from producing audio.
	hold bool
}

func (f *fakeTTS) Initialize(ctx context.Context) error { return nil }
func (f *fakeTTS) Cleanup() error                       { return nil }
func (f *fakeTTS) Reset() error                         { return nil }

func (f *fakeTTS) StartTTSSession(out chan<- core.SynthesisFrame, fatal chan<- error) error {
	f.out = out
	return nil
}

func (f *fakeTTS) BufferText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTTS) Flush() error {
	if f.hold {
		return nil
	}
	chunk := core.NewPCMChunk(make([]byte, 320), 16000, 1)
	go func() {
		f.out <- core.SynthesisFrame{Audio: &chunk}
		f.out <- core.SynthesisFrame{Flushed: true}
	}()
	return nil
}

func (f *fakeTTS) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeTTS) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type harness struct {
	handler *TTSHandler
	in      chan *core.EventPacket
	next    chan *core.EventPacket
	top     chan *core.EventPacket
}

func newHarness(t *testing.T, svc TTSService) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		handler: NewTTSHandler(svc, nil, DefaultConfig(), core.NewLogger(nil)),
		in:      make(chan *core.EventPacket, 100),
		next:    make(chan *core.EventPacket, 100),
		top:     make(chan *core.EventPacket, 100),
	}
	require.NoError(t, h.handler.Initialize(h.in, h.next, h.top, ctx))
	require.NoError(t, h.handler.Start())
	return h
}

func (h *harness) send(e core.IEvent) {
	h.in <- core.NewEventPacket(e, core.EventRelayDestinationNextService, "test")
}

func (h *harness) topEvents(t *testing.T, n int) []core.IEvent {
	t.Helper()
	var out []core.IEvent
	for len(out) < n {
		select {
		case p := <-h.top:
			out = append(out, p.Event)
		case <-time.After(time.Second):
			t.Fatalf("got %d of %d top events", len(out), n)
		}
	}
	return out
}

func TestSpeaksSentenceBySentence(t *testing.T) {
	svc := &fakeTTS{}
	h := newHarness(t, svc)

	h.send(&llm.LLMResponseStartedEvent{RequestID: "r1"})
	h.send(&llm.LLMResponseChunkEvent{RequestID: "r1", Chunk: "Hello there, how are you? I am"})
	h.send(&llm.LLMResponseChunkEvent{RequestID: "r1", Chunk: " **fine**."})
	h.send(&llm.LLMResponseCompletedEvent{RequestID: "r1", FullText: "ignored"})

	events := h.topEvents(t, 4)
	assert.Equal(t, &tts.TTSSpeakingStartedEvent{}, events[0])
	assert.Equal(t, &tts.TTSSpokenTextChunkEvent{Text: "Hello there, how are you?"}, events[1])
	assert.Equal(t, &tts.TTSSpokenTextChunkEvent{Text: "I am fine."}, events[2])
	assert.Equal(t, &tts.TTSSpeakingEndedEvent{Interrupted: false}, events[3])

	assert.Equal(t, []string{"Hello there, how are you?", "I am fine."}, svc.sent())
}

func TestIgnoresChunksOfOtherRequests(t *testing.T) {
	svc := &fakeTTS{hold: true}
	h := newHarness(t, svc)

	h.send(&llm.LLMResponseStartedEvent{RequestID: "current"})
	h.send(&llm.LLMResponseChunkEvent{RequestID: "stale", Chunk: "Old text that should not be spoken. "})
	h.send(&llm.LLMResponseCompletedEvent{RequestID: "current"})

	require.Eventually(t, func() bool { return len(h.next) >= 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, svc.sent())
}

func TestConfirmedInterruptionClears(t *testing.T) {
	svc := &fakeTTS{hold: true}
	h := newHarness(t, svc)

	h.send(&llm.LLMResponseStartedEvent{RequestID: "r1"})
	h.send(&llm.LLMResponseChunkEvent{RequestID: "r1", Chunk: "This sentence is queued for synthesis. And more"})
	h.send(&vad.VadInterruptionConfirmedEvent{})
	h.send(&llm.LLMResponseCompletedEvent{RequestID: "r1"})

	require.Eventually(t, func() bool { return len(h.next) >= 4 }, time.Second, 5*time.Millisecond)
	svc.mu.Lock()
	assert.Equal(t, 1, svc.cleared)
	svc.mu.Unlock()
	assert.Equal(t, []string{"This sentence is queued for synthesis."}, svc.sent())
	assert.Empty(t, h.top, "interrupted speech is ended by activity control")
}

func TestSpeakEventIsSpokenDirectly(t *testing.T) {
	svc := &fakeTTS{}
	h := newHarness(t, svc)

	h.send(&tts.TTSSpeakEvent{Text: "One moment please."})
	events := h.topEvents(t, 3)
	assert.IsType(t, &tts.TTSSpeakingStartedEvent{}, events[0])
	assert.Equal(t, &tts.TTSSpokenTextChunkEvent{Text: "One moment please."}, events[1])
	assert.IsType(t, &tts.TTSSpeakingEndedEvent{}, events[2])
}
