package activitycontrol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent/core"
	"voiceagent/events/tts"
	"voiceagent/events/vad"
)

type harness struct {
	handler *ActivityControlHandler
	in      chan *core.EventPacket
	next    chan *core.EventPacket
	top     chan *core.EventPacket
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := &harness{
		handler: NewActivityControlHandler(cfg, core.NewLogger(nil)),
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

func audio(marker byte) *tts.TTSOutputEvent {
	return &tts.TTSOutputEvent{AudioChunk: core.NewPCMChunk([]byte{marker, 0}, 16000, 1)}
}

// audioMarkers drains next and returns the marker byte of each audio packet.
func (h *harness) audioMarkers(wait time.Duration) []byte {
	var out []byte
	deadline := time.After(wait)
	for {
		select {
		case p := <-h.next:
			if e, ok := p.Event.(*tts.TTSOutputEvent); ok {
				out = append(out, e.AudioChunk.Bytes()[0])
			}
		case <-deadline:
			return out
		}
	}
}

func TestAudioPassesWhenNotSuspended(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.send(&tts.TTSSpeakingStartedEvent{})
	h.send(audio(1))
	h.send(audio(2))
	assert.Equal(t, []byte{1, 2}, h.audioMarkers(50*time.Millisecond))
}

func TestConfirmedInterruptionDropsHeldAudio(t *testing.T) {
	h := newHarness(t, Config{ConfirmationTimeout: time.Second})
	interruptions := 0
	h.handler.OnInterruption = func() { interruptions++ }

	h.send(&tts.TTSSpeakingStartedEvent{})
	h.send(audio(1))
	h.send(&vad.VadInterruptionSuspectedEvent{})
	h.send(audio(2))
	h.send(audio(3))
	h.send(&vad.VadInterruptionConfirmedEvent{})

	assert.Equal(t, []byte{1}, h.audioMarkers(50*time.Millisecond))

	select {
	case p := <-h.top:
		assert.Equal(t, &tts.TTSSpeakingEndedEvent{Interrupted: true}, p.Event)
	case <-time.After(time.Second):
		t.Fatal("no interrupted speaking ended")
	}
	assert.Equal(t, 1, interruptions)
}

func TestFalsePositiveReplaysHeldAudio(t *testing.T) {
	h := newHarness(t, Config{ConfirmationTimeout: 20 * time.Millisecond})

	h.send(&tts.TTSSpeakingStartedEvent{})
	h.send(&vad.VadInterruptionSuspectedEvent{})
	h.send(audio(1))
	h.send(audio(2))
	h.send(&tts.TTSSpeakingEndedEvent{})

	var markers []byte
	var ended bool
	deadline := time.After(time.Second)
	for !ended {
		select {
		case p := <-h.next:
			switch e := p.Event.(type) {
			case *tts.TTSOutputEvent:
				markers = append(markers, e.AudioChunk.Bytes()[0])
			case *tts.TTSSpeakingEndedEvent:
				ended = true
			}
		case <-deadline:
			t.Fatal("held audio was not replayed")
		}
	}
	assert.Equal(t, []byte{1, 2}, markers)
	assert.Empty(t, h.top)
}

func TestSuspicionIgnoredWhileSilent(t *testing.T) {
	h := newHarness(t, Config{ConfirmationTimeout: time.Second})
	h.send(&vad.VadInterruptionSuspectedEvent{})
	h.send(audio(7))
	assert.Equal(t, []byte{7}, h.audioMarkers(50*time.Millisecond))

	h.send(&vad.VadInterruptionConfirmedEvent{})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.top)
}
