package vad

import "voiceagent/core"

type VADUserSpeechChunkEvent struct {
	AudioChunk core.AudioChunk
}

func (e *VADUserSpeechChunkEvent) GetId() string {
	return "vad.user_speech.chunk"
}

type VADSilenceChunkEvent struct {
	AudioChunk core.AudioChunk
}

func (e *VADSilenceChunkEvent) GetId() string {
	return "vad.silence.chunk"
}

type VadUserSpeechStartedEvent struct{}

func (e *VadUserSpeechStartedEvent) GetId() string {
	return "vad.user_speech.started"
}

type VadUserSpeechEndedEvent struct{}

func (e *VadUserSpeechEndedEvent) GetId() string {
	return "vad.user_speech.ended"
}

// VadInterruptionSuspectedEvent is raised when the user starts talking over
// the agent. Output audio is held until confirmation or timeout.
type VadInterruptionSuspectedEvent struct{}

func (e *VadInterruptionSuspectedEvent) GetId() string {
	return "vad.interruption.suspected"
}

// VadInterruptionConfirmedEvent is raised once speech over the agent has
// lasted long enough to count as a barge-in.
type VadInterruptionConfirmedEvent struct{}

func (e *VadInterruptionConfirmedEvent) GetId() string {
	return "vad.interruption.confirmed"
}
