package transport

import (
	"strings"

	"voiceagent/core"
	"voiceagent/events/llm"
	"voiceagent/events/stt"
	"voiceagent/events/transport"
	"voiceagent/events/tts"
	"voiceagent/events/vad"
	"voiceagent/utils/audio"
)

// AgentState is the activity shown to room participants.
type AgentState string

const (
	AgentStateInitializing AgentState = "initializing"
	AgentStateListening    AgentState = "listening"
	AgentStateThinking     AgentState = "thinking"
	AgentStateSpeaking     AgentState = "speaking"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Transcription is a line of conversation text published to the room.
type Transcription struct {
	Role    string `json:"role"`
	Text    string `json:"text"`
	IsFinal bool   `json:"final"`
}

type RoomEventKind int

const (
	ParticipantJoined RoomEventKind = iota + 1
	ParticipantLeft
	RoomClosed
)

// RoomEvent reports a change in room membership or the room itself.
type RoomEvent struct {
	Kind     RoomEventKind
	Identity string
}

// ITransportService is a connected room. Input audio is delivered as PCM.
type ITransportService interface {
	core.IService
	StartReceiving(audio chan<- core.AudioChunk, events chan<- RoomEvent, fatal chan<- error)
	PublishAudio(chunk core.AudioChunk) error
	ClearAudio()
	SetAgentState(state AgentState) error
	PublishTranscription(t Transcription) error
}

// TransportHandlerWrapper shares one room between the input handler at the
// head of the pipeline and the output handler at its tail. The input handler
// owns the service lifecycle.
type TransportHandlerWrapper struct {
	service     ITransportService
	config      TransportConfig
	logger      *core.Logger
	newDenoiser func(sampleRate int, opts audio.DenoiseOptions) (audio.Denoiser, error)
}

func NewTransportHandlerWrapper(service ITransportService, config TransportConfig, logger *core.Logger) *TransportHandlerWrapper {
	return &TransportHandlerWrapper{
		service:     service,
		config:      config.withDefaults(),
		logger:      logger,
		newDenoiser: audio.NewDenoiser,
	}
}

func (w *TransportHandlerWrapper) GetInputHandler() *TransportInputHandler {
	cfg := w.config
	return &TransportInputHandler{
		BaseHandler: core.NewBaseHandler("TransportInputHandler", w.service, nil, w.logger),
		wrapper:     w,
		converter:   audio.NewConverter(core.PCM, cfg.InChannels, cfg.InSampleRate),
		audio:       make(chan core.AudioChunk, 64),
		events:      make(chan RoomEvent, 4),
	}
}

func (w *TransportHandlerWrapper) GetOutputHandler() *TransportOutputHandler {
	cfg := w.config
	return &TransportOutputHandler{
		BaseHandler: core.NewBaseHandler("TransportOutputHandler", nil, nil, w.logger),
		wrapper:     w,
		converter:   audio.NewConverter(cfg.OutAudioFormat, cfg.OutChannels, cfg.OutSampleRate),
		state:       AgentStateInitializing,
	}
}

// TransportInputHandler turns room audio and participant changes into
// pipeline events.
type TransportInputHandler struct {
	*core.BaseHandler
	wrapper   *TransportHandlerWrapper
	converter *audio.Converter
	denoiser  audio.Denoiser
	audio     chan core.AudioChunk
	events    chan RoomEvent
}

func (h *TransportInputHandler) Start() error {
	if cfg := h.wrapper.config; cfg.NoiseCancellation && cfg.InChannels == 1 {
		d, err := h.wrapper.newDenoiser(cfg.InSampleRate, audio.DenoiseOptions{CutoffHz: cfg.NoiseCutoffHz, GateDBFS: cfg.NoiseGateDBFS})
		if err != nil {
			h.Logger.Warn("noise cancellation unavailable", "error", err)
		} else {
			h.denoiser = d
		}
	}
	h.wrapper.service.StartReceiving(h.audio, h.events, h.FatalServiceErrorChan)
	go func() {
		for {
			select {
			case chunk := <-h.audio:
				h.handleAudio(chunk)
			case event := <-h.events:
				h.handleRoomEvent(event)
			case packet := <-h.InputChan:
				h.HandleEvent(packet)
			case <-h.Ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (h *TransportInputHandler) HandleEvent(packet *core.EventPacket) error {
	h.SendPacket(packet)
	return nil
}

func (h *TransportInputHandler) handleAudio(chunk core.AudioChunk) {
	if len(chunk.Bytes()) == 0 {
		return
	}
	converted, err := h.converter.Convert(chunk)
	if err != nil {
		h.Logger.Debug("input audio dropped", "error", err)
		return
	}
	if h.denoiser != nil {
		cleaned, err := h.denoiser.Denoise(converted.Bytes())
		if err != nil {
			h.Logger.Debug("denoise failed, passing audio through", "error", err)
		} else {
			converted.Data = &cleaned
		}
	}
	if len(converted.Bytes()) == 0 {
		return
	}
	h.Emit(&transport.TransportAudioInputEvent{AudioChunk: converted}, core.EventRelayDestinationNextService)
}

func (h *TransportInputHandler) handleRoomEvent(event RoomEvent) {
	switch event.Kind {
	case ParticipantJoined:
		h.Logger.Info("participant joined", "identity", event.Identity)
		h.Emit(&transport.ParticipantJoinedEvent{Identity: event.Identity}, core.EventRelayDestinationNextService)
	case ParticipantLeft:
		h.Logger.Info("participant left", "identity", event.Identity)
		h.Emit(&transport.ParticipantLeftEvent{Identity: event.Identity}, core.EventRelayDestinationNextService)
		h.Emit(&core.EndCallEvent{Reason: core.EndReasonParticipantLeft}, core.EventRelayDestinationTopService)
	case RoomClosed:
		h.Logger.Info("room closed")
		h.Emit(&core.EndCallEvent{Reason: core.EndReasonRoomClosed}, core.EventRelayDestinationTopService)
	}
}

func (h *TransportInputHandler) Reset() error {
	h.converter.Reset()
	if h.denoiser != nil {
		h.denoiser.Reset()
	}
	return h.BaseHandler.Reset()
}

func (h *TransportInputHandler) Cleanup() error {
	if h.denoiser != nil {
		h.denoiser.Close()
	}
	return h.BaseHandler.Cleanup()
}

// TransportOutputHandler publishes agent audio, agent state and
// transcriptions to the room.
type TransportOutputHandler struct {
	*core.BaseHandler
	wrapper   *TransportHandlerWrapper
	converter *audio.Converter
	state     AgentState
	speaking  bool
}

func (h *TransportOutputHandler) Start() error {
	h.setState(AgentStateListening)
	go func() {
		for {
			select {
			case packet := <-h.InputChan:
				h.HandleEvent(packet)
			case <-h.Ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (h *TransportOutputHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *tts.TTSOutputEvent:
		h.publishAudio(event.AudioChunk)

	case *llm.LLMResponseStartedEvent:
		if !h.speaking {
			h.setState(AgentStateThinking)
		}
	case *llm.LLMResponseCompletedEvent:
		if !h.speaking && strings.TrimSpace(event.FullText) == "" {
			h.setState(AgentStateListening)
		}
	case *llm.LLMResponseFailedEvent:
		if !h.speaking {
			h.setState(AgentStateListening)
		}

	case *tts.TTSSpeakingStartedEvent:
		h.speaking = true
		h.setState(AgentStateSpeaking)
	case *tts.TTSSpeakingEndedEvent:
		if event.Interrupted {
			h.converter.Reset()
		} else {
			h.flushAudio()
		}
		h.speaking = false
		h.setState(AgentStateListening)
	case *vad.VadInterruptionConfirmedEvent:
		h.converter.Reset()
		h.wrapper.service.ClearAudio()

	case *tts.TTSSpokenTextChunkEvent:
		h.publishTranscription(Transcription{Role: RoleAssistant, Text: event.Text, IsFinal: true})
	case *stt.STTFinalOutputEvent:
		h.publishTranscription(Transcription{Role: RoleUser, Text: event.Text, IsFinal: true})
	case *stt.STTInterimOutputEvent:
		if h.wrapper.config.PublishInterim {
			h.publishTranscription(Transcription{Role: RoleUser, Text: event.Text})
		}
	}
	h.SendPacket(packet)
	return nil
}

func (h *TransportOutputHandler) publishAudio(chunk core.AudioChunk) {
	if len(chunk.Bytes()) == 0 {
		return
	}
	converted, err := h.converter.Convert(chunk)
	if err != nil {
		h.Logger.Warn("output audio conversion failed", "error", err)
		return
	}
	h.publish(converted)
}

// flushAudio publishes the resampler tail at the end of an utterance.
func (h *TransportOutputHandler) flushAudio() {
	tail, err := h.converter.Flush()
	if err != nil {
		h.Logger.Warn("output audio flush failed", "error", err)
		return
	}
	h.publish(tail)
}

func (h *TransportOutputHandler) publish(chunk core.AudioChunk) {
	if len(chunk.Bytes()) == 0 {
		return
	}
	if err := h.wrapper.service.PublishAudio(chunk); err != nil {
		h.Logger.Warn("publish audio failed", "error", err)
	}
}

func (h *TransportOutputHandler) publishTranscription(t Transcription) {
	if !h.wrapper.config.PublishTranscriptions || strings.TrimSpace(t.Text) == "" {
		return
	}
	if err := h.wrapper.service.PublishTranscription(t); err != nil {
		h.Logger.Debug("publish transcription failed", "error", err)
	}
}

func (h *TransportOutputHandler) setState(state AgentState) {
	if h.state == state {
		return
	}
	if err := h.wrapper.service.SetAgentState(state); err != nil {
		h.Logger.Debug("agent state not updated", "state", string(state), "error", err)
		return
	}
	h.state = state
}

func (h *TransportOutputHandler) Reset() error {
	h.converter.Reset()
	h.speaking = false
	h.setState(AgentStateListening)
	return nil
}
