package tts

import "voiceagent/core"

type TTSOutputEvent struct {
	AudioChunk core.AudioChunk
}

func (e *TTSOutputEvent) GetId() string {
	return "tts.output"
}

// TTSSpokenTextChunkEvent carries text that was handed to the synthesizer,
// in the order it will be heard.
type TTSSpokenTextChunkEvent struct {
	Text string
}

func (e *TTSSpokenTextChunkEvent) GetId() string {
	return "tts.spoken_text_chunk"
}

type TTSSpeakingStartedEvent struct{}

func (e *TTSSpeakingStartedEvent) GetId() string {
	return "tts.speaking_started"
}

type TTSSpeakingEndedEvent struct {
	Interrupted bool
}

func (e *TTSSpeakingEndedEvent) GetId() string {
	return "tts.speaking_ended"
}

// TTSSpeakEvent speaks Text directly, bypassing LLM chunk accumulation.
type TTSSpeakEvent struct {
	Text string
}

func (e *TTSSpeakEvent) GetId() string {
	return "tts.speak"
}
