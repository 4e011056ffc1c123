package tts

import (
	"strings"

	"voiceagent/core"
	"voiceagent/events/llm"
	"voiceagent/events/tts"
	"voiceagent/events/vad"
)

// TTSService synthesizes text over a long-lived session. Every Flush is
// answered by a SynthesisFrame with Flushed set once its audio is out.
type TTSService interface {
	core.IService
	StartTTSSession(out chan<- core.SynthesisFrame, fatal chan<- error) error
	BufferText(text string) error
	Flush() error
	// Clear drops queued text and any audio not yet delivered.
	Clear() error
}

// TTSHandler turns streamed LLM text into audio. Text is cut at sentence
// boundaries and each sentence is flushed on its own so playback starts
// after the first sentence.
type TTSHandler struct {
	*core.BaseHandler
	config TTSConfig

	frames chan core.SynthesisFrame

	requestID string
	buffer    strings.Builder
	pending   []string // sentences flushed but not yet fully synthesized
	completed bool
	speaking  bool
}

func NewTTSHandler(service TTSService, backups []TTSService, config TTSConfig, logger *core.Logger) *TTSHandler {
	backupServices := make([]core.IService, 0, len(backups))
	for _, b := range backups {
		backupServices = append(backupServices, b)
	}
	h := &TTSHandler{
		BaseHandler: core.NewBaseHandler("TTSHandler", service, backupServices, logger),
		config:      config.withDefaults(),
		frames:      make(chan core.SynthesisFrame, 64),
	}
	h.OnFailover = func(next core.IService) {
		if svc, ok := next.(TTSService); ok {
			if err := svc.StartTTSSession(h.frames, h.FatalServiceErrorChan); err != nil {
				h.Logger.Error("restart tts session on backup", "error", err)
			}
		}
	}
	return h
}

func (h *TTSHandler) service() TTSService {
	svc, _ := h.CurrentService().(TTSService)
	return svc
}

func (h *TTSHandler) Start() error {
	if svc := h.service(); svc != nil {
		if err := svc.StartTTSSession(h.frames, h.FatalServiceErrorChan); err != nil {
			return err
		}
	}
	go h.eventLoop()
	return nil
}

func (h *TTSHandler) eventLoop() {
	for {
		select {
		case packet := <-h.InputChan:
			h.HandleEvent(packet)
		case frame := <-h.frames:
			h.handleFrame(frame)
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *TTSHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *llm.LLMResponseStartedEvent:
		h.beginResponse(event.RequestID)

	case *llm.LLMResponseChunkEvent:
		if event.RequestID == h.requestID {
			h.buffer.WriteString(event.Chunk)
			h.speakReady(event.ConsumeImmediately)
		}

	case *llm.LLMResponseCompletedEvent:
		if event.RequestID == h.requestID {
			h.speakReady(true)
			h.completed = true
			h.maybeFinish()
		}

	case *llm.LLMResponseFailedEvent:
		if event.RequestID == h.requestID {
			if event.Cancelled {
				h.clear()
			} else {
				h.speakReady(true)
				h.completed = true
				h.maybeFinish()
			}
		}

	case *tts.TTSSpeakEvent:
		h.beginResponse("")
		h.buffer.WriteString(event.Text)
		h.speakReady(true)
		h.completed = true

	case *vad.VadInterruptionConfirmedEvent:
		h.clear()
	}
	h.SendPacket(packet)
	return nil
}

func (h *TTSHandler) beginResponse(requestID string) {
	if len(h.pending) > 0 || h.buffer.Len() > 0 {
		h.clear()
	}
	h.requestID = requestID
	h.completed = false
	h.speaking = false
}

// speakReady sends every complete sentence in the buffer. With all set it
// also sends the remainder.
func (h *TTSHandler) speakReady(all bool) {
	buf := h.buffer.String()
	for {
		sentence, rest, ok := splitSentence(buf, h.config.MinSentenceLength)
		if !ok {
			break
		}
		h.speak(sentence)
		buf = rest
	}
	for len(buf) > h.config.MaxBufferLength {
		var head string
		head, buf = splitAtWord(buf, h.config.MaxBufferLength)
		h.speak(head)
	}
	if all {
		h.speak(buf)
		buf = ""
	}
	h.buffer.Reset()
	h.buffer.WriteString(buf)
}

func (h *TTSHandler) speak(raw string) {
	text := normalizeTextForTTS(raw, h.config.ExpandAbbreviations)
	if text == "" {
		return
	}
	svc := h.service()
	if svc == nil {
		return
	}
	if err := svc.BufferText(text); err != nil {
		h.HandleError(err)
		return
	}
	if err := svc.Flush(); err != nil {
		h.HandleError(err)
		return
	}
	h.pending = append(h.pending, text)
}

func (h *TTSHandler) handleFrame(frame core.SynthesisFrame) {
	if frame.Audio != nil {
		if len(h.pending) == 0 {
			// late audio from a cleared utterance
			return
		}
		if !h.speaking {
			h.speaking = true
			h.Emit(&tts.TTSSpeakingStartedEvent{}, core.EventRelayDestinationTopService)
		}
		h.Emit(&tts.TTSOutputEvent{AudioChunk: *frame.Audio}, core.EventRelayDestinationNextService)
	}
	if frame.Flushed && len(h.pending) > 0 {
		text := h.pending[0]
		h.pending = h.pending[1:]
		h.Emit(&tts.TTSSpokenTextChunkEvent{Text: text}, core.EventRelayDestinationTopService)
		h.maybeFinish()
	}
}

// maybeFinish reports the end of speech once the response is complete and
// every flushed sentence has been synthesized.
func (h *TTSHandler) maybeFinish() {
	if !h.completed || len(h.pending) > 0 || h.buffer.Len() > 0 {
		return
	}
	if h.speaking {
		h.Emit(&tts.TTSSpeakingEndedEvent{}, core.EventRelayDestinationTopService)
	}
	h.speaking = false
	h.completed = false
	h.requestID = ""
}

// clear stops the current utterance. The interruption path reports the end
// of speech, so nothing is emitted here.
func (h *TTSHandler) clear() {
	if svc := h.service(); svc != nil && (len(h.pending) > 0 || h.speaking) {
		if err := svc.Clear(); err != nil {
			h.Logger.Warn("tts clear failed", "error", err)
		}
	}
	h.buffer.Reset()
	h.pending = nil
	h.speaking = false
	h.completed = false
	h.requestID = ""
}
