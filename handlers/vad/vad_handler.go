package vad

import (
	"time"

	"voiceagent/core"
	"voiceagent/events/transport"
	"voiceagent/events/tts"
	"voiceagent/events/vad"
)

// VADService scores speech probability for an audio chunk.
type VADService interface {
	core.IService
	ProcessAudio(input core.AudioChunk) (core.VADResult, error)
}

type turnState int

const (
	stateQuiet turnState = iota
	stateStarting
	stateSpeaking
)

// VADHandler turns raw input audio into speech and silence chunks and
// publishes turn boundaries. Timing is measured in audio time so results do
// not depend on delivery jitter.
type VADHandler struct {
	*core.BaseHandler
	service VADService
	config  VADConfig

	state       turnState
	lastConf    float32
	startAccum  time.Duration
	speechAccum time.Duration
	silence     time.Duration
	candidates  []core.AudioChunk
	preRoll     *preRoll
	format      core.AudioChunk // rate and channels of the pre-roll frames

	botSpeaking   bool
	suspected     bool
	confirmed     bool
	interruptedBy bool // current turn interrupted the agent
}

func NewVADHandler(service VADService, config VADConfig, logger *core.Logger) *VADHandler {
	config = config.withDefaults()
	// 16 kHz mono 16-bit is 32 bytes per millisecond.
	capacity := int(config.PreRoll.Milliseconds())*32 + 256
	return &VADHandler{
		BaseHandler: core.NewBaseHandler("VADHandler", service, nil, logger),
		service:     service,
		config:      config,
		preRoll:     newPreRoll(capacity),
	}
}

func (h *VADHandler) Start() error {
	go func() {
		for {
			select {
			case <-h.Ctx.Done():
				return
			case packet := <-h.InputChan:
				h.HandleEvent(packet)
			}
		}
	}()
	return nil
}

func (h *VADHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *transport.TransportAudioInputEvent:
		h.processAudio(event.AudioChunk)
		return nil
	case *tts.TTSSpeakingStartedEvent:
		h.botSpeaking = true
	case *tts.TTSSpeakingEndedEvent:
		h.botSpeaking = false
		h.suspected, h.confirmed = false, false
	}
	h.SendPacket(packet)
	return nil
}

func (h *VADHandler) processAudio(chunk core.AudioChunk) {
	res, err := h.service.ProcessAudio(chunk)
	if err != nil {
		h.HandleError(err)
		return
	}
	if res.Ready {
		h.lastConf = res.Confidence
	}
	speech := h.lastConf >= h.config.MinConfidence
	dur := chunk.Duration()

	switch h.state {
	case stateQuiet:
		if !speech {
			h.bufferPreRoll(chunk)
			h.Emit(&vad.VADSilenceChunkEvent{AudioChunk: chunk}, core.EventRelayDestinationNextService)
			return
		}
		h.state = stateStarting
		h.startAccum = dur
		h.candidates = []core.AudioChunk{chunk}
		h.maybeStartTurn()

	case stateStarting:
		if !speech {
			for _, c := range h.candidates {
				h.bufferPreRoll(c)
			}
			h.candidates = nil
			h.state = stateQuiet
			h.bufferPreRoll(chunk)
			h.Emit(&vad.VADSilenceChunkEvent{AudioChunk: chunk}, core.EventRelayDestinationNextService)
			return
		}
		h.startAccum += dur
		h.candidates = append(h.candidates, chunk)
		h.maybeStartTurn()

	case stateSpeaking:
		h.Emit(&vad.VADUserSpeechChunkEvent{AudioChunk: chunk}, core.EventRelayDestinationNextService)
		if speech {
			h.silence = 0
			h.speechAccum += dur
			h.maybeConfirmInterruption()
			return
		}
		h.silence += dur
		if h.silence >= h.stopDuration() {
			h.endTurn()
		}
	}
}

func (h *VADHandler) maybeStartTurn() {
	if h.startAccum < h.config.StartDuration {
		return
	}
	h.state = stateSpeaking
	h.speechAccum = h.startAccum
	h.silence = 0
	h.Emit(&vad.VadUserSpeechStartedEvent{}, core.EventRelayDestinationTopService)

	if h.botSpeaking && h.config.AllowInterruptions {
		h.suspected, h.confirmed = true, false
		h.interruptedBy = true
		h.Logger.Debug("user speech over agent, interruption suspected")
		h.Emit(&vad.VadInterruptionSuspectedEvent{}, core.EventRelayDestinationTopService)
	}

	for _, frame := range h.preRoll.drain() {
		data := frame
		h.Emit(&vad.VADUserSpeechChunkEvent{AudioChunk: core.AudioChunk{
			Data:       &data,
			SampleRate: h.format.SampleRate,
			Channels:   h.format.Channels,
			Format:     core.PCM,
		}}, core.EventRelayDestinationNextService)
	}
	for _, c := range h.candidates {
		h.Emit(&vad.VADUserSpeechChunkEvent{AudioChunk: c}, core.EventRelayDestinationNextService)
	}
	h.candidates = nil
	h.maybeConfirmInterruption()
}

func (h *VADHandler) maybeConfirmInterruption() {
	if !h.suspected || h.confirmed || h.speechAccum < h.config.InterruptionConfirmDuration {
		return
	}
	h.confirmed = true
	h.Logger.Info("interruption confirmed", "speech_ms", h.speechAccum.Milliseconds())
	h.Emit(&vad.VadInterruptionConfirmedEvent{}, core.EventRelayDestinationTopService)
}

func (h *VADHandler) stopDuration() time.Duration {
	if h.interruptedBy {
		return h.config.StopDuration + h.config.PatienceIncreaseOnInterruption
	}
	return h.config.StopDuration
}

func (h *VADHandler) endTurn() {
	h.state = stateQuiet
	h.speechAccum, h.silence, h.startAccum = 0, 0, 0
	h.suspected, h.interruptedBy = false, false
	h.Emit(&vad.VadUserSpeechEndedEvent{}, core.EventRelayDestinationTopService)
}

func (h *VADHandler) bufferPreRoll(chunk core.AudioChunk) {
	if chunk.Format != core.PCM || chunk.Data == nil {
		return
	}
	if chunk.SampleRate != h.format.SampleRate || chunk.Channels != h.format.Channels {
		h.preRoll.reset()
		h.format = core.AudioChunk{SampleRate: chunk.SampleRate, Channels: chunk.Channels}
	}
	if err := h.preRoll.push(*chunk.Data); err != nil {
		h.Logger.Debug("pre-roll write failed", "error", err)
	}
}

func (h *VADHandler) Reset() error {
	h.state = stateQuiet
	h.candidates = nil
	h.preRoll.reset()
	h.speechAccum, h.silence, h.startAccum = 0, 0, 0
	h.suspected, h.confirmed, h.interruptedBy = false, false, false
	return h.BaseHandler.Reset()
}
