package stt

import (
	"context"
	"errors"

	"voiceagent/core"
	"voiceagent/events/stt"
	"voiceagent/events/vad"
)

type ISTTService interface {
	core.IService
	StartTranscriptionSession(out chan<- core.Transcript, fatal chan<- error)
	SendTranscriptionAudio(chunk core.AudioChunk) error
	Finalize() error
}

// STTHandler streams user speech chunks to the STT service and relays the
// transcripts. VAD audio chunks stop here.
type STTHandler struct {
	*core.BaseHandler
	transcripts chan core.Transcript
	config      STTConfig
}

func NewSTTHandler(service ISTTService, backups []ISTTService, config STTConfig, logger *core.Logger) *STTHandler {
	services := make([]core.IService, len(backups))
	for i, s := range backups {
		services[i] = s
	}
	h := &STTHandler{
		BaseHandler: core.NewBaseHandler("STTHandler", service, services, logger),
		transcripts: make(chan core.Transcript, 32),
		config:      config,
	}
	h.OnFailover = func(next core.IService) {
		next.(ISTTService).StartTranscriptionSession(h.transcripts, h.FatalServiceErrorChan)
	}
	return h
}

func (h *STTHandler) service() ISTTService {
	return h.CurrentService().(ISTTService)
}

func (h *STTHandler) Start() error {
	h.service().StartTranscriptionSession(h.transcripts, h.FatalServiceErrorChan)
	go h.transcriptLoop()
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

func (h *STTHandler) transcriptLoop() {
	for {
		select {
		case t := <-h.transcripts:
			h.relay(t)
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *STTHandler) relay(t core.Transcript) {
	if t.IsFinal {
		h.Logger.Debug("final transcript", "text", t.Text, "confidence", t.Confidence)
		h.Emit(&stt.STTFinalOutputEvent{Text: t.Text, Confidence: t.Confidence}, core.EventRelayDestinationNextService)
		return
	}
	if h.config.ForwardInterim {
		h.Emit(&stt.STTInterimOutputEvent{Text: t.Text}, core.EventRelayDestinationNextService)
	}
}

func (h *STTHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *vad.VADUserSpeechChunkEvent:
		if err := h.service().SendTranscriptionAudio(event.AudioChunk); err != nil {
			// audio during a reconnect is dropped
			h.Logger.Debug("stt audio dropped", "error", err)
		}
		return nil
	case *vad.VADSilenceChunkEvent:
		return nil
	case *vad.VadUserSpeechEndedEvent:
		if h.config.FinalizeOnSpeechEnd {
			if err := h.service().Finalize(); err != nil && !errors.Is(err, context.Canceled) {
				h.Logger.Debug("stt finalize failed", "error", err)
			}
		}
	}
	h.SendPacket(packet)
	return nil
}
