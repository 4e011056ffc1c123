package activitycontrol

import (
	"sync"
	"time"

	"voiceagent/core"
	"voiceagent/events/llm"
	"voiceagent/events/tts"
	"voiceagent/events/vad"
)

type Config struct {
	// ConfirmationTimeout is how long held audio waits for a confirmation
	// before the suspicion is treated as a false positive and replayed.
	ConfirmationTimeout time.Duration `json:"confirmation_timeout" mapstructure:"confirmation_timeout"`
	// PlayoutLag approximates audio sent but not yet heard, for logging
	// how much of the reply was cut.
	PlayoutLag time.Duration `json:"playout_lag" mapstructure:"playout_lag"`
}

func DefaultConfig() Config {
	return Config{
		ConfirmationTimeout: 1500 * time.Millisecond,
		PlayoutLag:          300 * time.Millisecond,
	}
}

// ActivityControlHandler sits between TTS and the transport output and gates
// agent audio during a barge-in:
//
//   - suspected: new audio is held back and a confirmation timer starts;
//   - confirmed: held audio is dropped and speaking ended (interrupted) is
//     broadcast;
//   - timer fires first: held audio is replayed in order.
type ActivityControlHandler struct {
	*core.BaseHandler
	config Config

	// OnInterruption runs once per confirmed barge-in on agent speech.
	OnInterruption func()

	mu        sync.Mutex
	held      []*core.EventPacket
	suspended bool
	timer     *time.Timer
	resume    chan struct{}

	speaking     bool
	speakStart   time.Time
	sentDuration time.Duration
}

func NewActivityControlHandler(config Config, logger *core.Logger) *ActivityControlHandler {
	d := DefaultConfig()
	if config.ConfirmationTimeout <= 0 {
		config.ConfirmationTimeout = d.ConfirmationTimeout
	}
	if config.PlayoutLag < 0 {
		config.PlayoutLag = 0
	}
	return &ActivityControlHandler{
		BaseHandler: core.NewBaseHandler("ActivityControlHandler", nil, nil, logger),
		config:      config,
		resume:      make(chan struct{}, 1),
	}
}

func (h *ActivityControlHandler) Start() error {
	go func() {
		for {
			select {
			case packet := <-h.InputChan:
				h.HandleEvent(packet)
			case <-h.resume:
				h.onFalsePositive()
			case <-h.Ctx.Done():
				h.stopTimer()
				return
			}
		}
	}()
	return nil
}

func (h *ActivityControlHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *tts.TTSSpeakingStartedEvent:
		h.mu.Lock()
		h.speaking = true
		h.speakStart = time.Now()
		h.sentDuration = 0
		h.mu.Unlock()

	case *tts.TTSSpeakingEndedEvent:
		h.mu.Lock()
		if h.suspended && !event.Interrupted {
			// the reply finished while audio is held; end it after replay
			h.held = append(h.held, packet)
			h.mu.Unlock()
			return nil
		}
		h.speaking = false
		h.mu.Unlock()

	case *llm.LLMResponseStartedEvent:
		h.mu.Lock()
		if !h.suspended {
			h.held = nil
		}
		h.mu.Unlock()

	case *tts.TTSOutputEvent:
		h.mu.Lock()
		if h.suspended {
			h.held = append(h.held, packet)
			h.mu.Unlock()
			return nil
		}
		h.sentDuration += event.AudioChunk.Duration()
		h.mu.Unlock()

	case *vad.VadInterruptionSuspectedEvent:
		h.mu.Lock()
		start := !h.suspended && h.speaking
		if start {
			h.suspended = true
		}
		h.mu.Unlock()
		if start {
			h.startTimer()
		}

	case *vad.VadInterruptionConfirmedEvent:
		h.confirm()
	}
	h.SendPacket(packet)
	return nil
}

func (h *ActivityControlHandler) confirm() {
	h.stopTimer()

	h.mu.Lock()
	wasSpeaking := h.speaking
	dropped := len(h.held)
	played := time.Since(h.speakStart) - h.config.PlayoutLag
	if played < 0 || h.speakStart.IsZero() {
		played = 0
	}
	sent := h.sentDuration
	h.held = nil
	h.suspended = false
	h.speaking = false
	h.sentDuration = 0
	h.speakStart = time.Time{}
	h.mu.Unlock()

	if !wasSpeaking {
		return
	}
	unplayed := sent - played
	if unplayed < 0 {
		unplayed = 0
	}
	h.Logger.Info("interruption confirmed",
		"dropped_chunks", dropped,
		"sent_ms", sent.Milliseconds(),
		"unplayed_ms", unplayed.Milliseconds(),
	)
	if h.OnInterruption != nil {
		h.OnInterruption()
	}
	h.Emit(&tts.TTSSpeakingEndedEvent{Interrupted: true}, core.EventRelayDestinationTopService)
}

func (h *ActivityControlHandler) startTimer() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(h.config.ConfirmationTimeout, func() {
		select {
		case h.resume <- struct{}{}:
		default:
		}
	})
}

func (h *ActivityControlHandler) stopTimer() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// onFalsePositive replays the held packets in order.
func (h *ActivityControlHandler) onFalsePositive() {
	h.mu.Lock()
	if !h.suspended {
		h.mu.Unlock()
		return
	}
	held := h.held
	h.held = nil
	h.suspended = false
	h.timer = nil
	h.mu.Unlock()

	h.Logger.Info("false interruption, resuming audio", "held_chunks", len(held))
	for _, packet := range held {
		h.HandleEvent(packet)
	}
}

func (h *ActivityControlHandler) Cleanup() error {
	h.stopTimer()
	return nil
}

func (h *ActivityControlHandler) Reset() error {
	h.stopTimer()
	h.mu.Lock()
	h.held = nil
	h.suspended = false
	h.speaking = false
	h.mu.Unlock()
	return nil
}
