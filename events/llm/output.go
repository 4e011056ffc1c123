package llm

import "voiceagent/core"

// LLMGenerateResponseEvent asks the LLM handler for a completion over Context.
// Instructions, when set, is appended as a trailing system message for this
// request only.
type LLMGenerateResponseEvent struct {
	RequestID    string          `json:"request_id"`
	Context      core.LLMContext `json:"context"`
	Instructions string          `json:"instructions,omitempty"`
}

func (*LLMGenerateResponseEvent) GetId() string {
	return "llm.generate_response"
}

type LLMResponseStartedEvent struct {
	RequestID string
}

func (e *LLMResponseStartedEvent) GetId() string {
	return "llm.response_started"
}

type LLMResponseChunkEvent struct {
	RequestID          string
	Chunk              string
	ConsumeImmediately bool // Speak without waiting for a sentence boundary.
}

func (e *LLMResponseChunkEvent) GetId() string {
	return "llm.response_chunk"
}

type LLMResponseCompletedEvent struct {
	RequestID string
	FullText  string
}

func (e *LLMResponseCompletedEvent) GetId() string {
	return "llm.response_completed"
}

// LLMResponseFailedEvent reports a completion that ended without text,
// either on a provider error or a cancellation.
type LLMResponseFailedEvent struct {
	RequestID string
	Error     string
	Cancelled bool
}

func (e *LLMResponseFailedEvent) GetId() string {
	return "llm.response_failed"
}
