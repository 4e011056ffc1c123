package context

import (
	"strings"

	"github.com/google/uuid"

	"voiceagent/core"
	"voiceagent/events/llm"
	"voiceagent/events/stt"
	"voiceagent/events/vad"
)

// UserContextHandler aggregates final transcripts into a user turn and asks
// for a completion once the user stops speaking.
type UserContextHandler struct {
	*core.BaseHandler
	owner *ConsultationContext

	speaking bool
	pending  []string
}

func newUserContextHandler(owner *ConsultationContext, logger *core.Logger) *UserContextHandler {
	return &UserContextHandler{
		BaseHandler: core.NewBaseHandler("UserContextHandler", nil, nil, logger),
		owner:       owner,
	}
}

func (h *UserContextHandler) Start() error {
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

func (h *UserContextHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *vad.VadUserSpeechStartedEvent:
		h.speaking = true
	case *vad.VadUserSpeechEndedEvent:
		h.speaking = false
		h.SendPacket(packet)
		h.commit()
		return nil
	case *stt.STTFinalOutputEvent:
		h.addTranscript(event.Text)
		h.SendPacket(packet)
		if !h.speaking {
			h.commit()
		}
		return nil
	}
	h.SendPacket(packet)
	return nil
}

func (h *UserContextHandler) addTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if h.owner.config.FilterFillers && h.owner.fillers.IsFillerOnly(text) {
		h.Logger.Debug("ignoring filler-only transcript", "text", text)
		return
	}
	h.pending = append(h.pending, text)
}

func (h *UserContextHandler) commit() {
	if len(h.pending) == 0 {
		return
	}
	turn := strings.Join(h.pending, " ")
	h.pending = nil

	snapshot := h.owner.addUser(turn)
	h.Logger.Info("user turn", "text", turn)
	h.Emit(&llm.LLMGenerateResponseEvent{
		RequestID: uuid.NewString(),
		Context:   snapshot,
	}, core.EventRelayDestinationNextService)
}

func (h *UserContextHandler) Reset() error {
	h.pending = nil
	h.speaking = false
	return nil
}
