package context

import (
	"strings"

	"voiceagent/core"
	"voiceagent/events/llm"
	"voiceagent/events/tts"
	"voiceagent/events/vad"
)

// AssistantContextHandler records what the agent said. A reply is stored in
// full when it was spoken to the end. After a barge-in only the text already
// handed to the synthesizer is stored.
type AssistantContextHandler struct {
	*core.BaseHandler
	owner *ConsultationContext

	requestID string
	active    bool
	recorded  bool
	fullText  string
	completed bool
	spoken    strings.Builder
}

func newAssistantContextHandler(owner *ConsultationContext, logger *core.Logger) *AssistantContextHandler {
	return &AssistantContextHandler{
		BaseHandler: core.NewBaseHandler("AssistantContextHandler", nil, nil, logger),
		owner:       owner,
	}
}

func (h *AssistantContextHandler) Start() error {
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

func (h *AssistantContextHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *llm.LLMResponseStartedEvent:
		h.finishTurn()
		h.requestID = event.RequestID
		h.active = true
		h.recorded, h.completed = false, false
		h.fullText = ""
		h.spoken.Reset()

	case *llm.LLMResponseCompletedEvent:
		if event.RequestID == h.requestID {
			h.completed = true
			h.fullText = event.FullText
		}
		h.owner.resolve(event.RequestID, nil)

	case *llm.LLMResponseFailedEvent:
		if event.RequestID == h.requestID && !event.Cancelled && h.spoken.Len() == 0 {
			h.active = false
		}
		h.owner.resolve(event.RequestID, responseError(event))

	case *tts.TTSSpokenTextChunkEvent:
		if h.active {
			if h.spoken.Len() > 0 {
				h.spoken.WriteByte(' ')
			}
			h.spoken.WriteString(strings.TrimSpace(event.Text))
		}

	case *tts.TTSSpeakingEndedEvent:
		if event.Interrupted {
			h.recordSpoken()
		} else {
			h.finishTurn()
		}

	case *vad.VadInterruptionConfirmedEvent:
		h.recordSpoken()
	}
	h.SendPacket(packet)
	return nil
}

// finishTurn stores the full reply if it completed, else what was spoken.
func (h *AssistantContextHandler) finishTurn() {
	if !h.active || h.recorded {
		return
	}
	if h.completed {
		h.record(h.fullText)
		return
	}
	if h.spoken.Len() > 0 {
		h.record(h.spoken.String())
	}
}

func (h *AssistantContextHandler) recordSpoken() {
	if !h.active || h.recorded {
		return
	}
	if h.spoken.Len() == 0 {
		h.recorded = true
		return
	}
	h.Logger.Debug("assistant interrupted", "spoken", h.spoken.String())
	h.record(h.spoken.String())
}

func (h *AssistantContextHandler) record(text string) {
	h.recorded = true
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	h.owner.addAssistant(text)
}

func (h *AssistantContextHandler) Reset() error {
	h.active, h.recorded, h.completed = false, false, false
	h.spoken.Reset()
	return nil
}
