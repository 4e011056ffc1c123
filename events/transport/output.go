package transport

import "voiceagent/core"

type TransportAudioInputEvent struct {
	AudioChunk core.AudioChunk
}

func (e *TransportAudioInputEvent) GetId() string {
	return "transport.audio_input"
}

type ParticipantJoinedEvent struct {
	Identity string
}

func (e *ParticipantJoinedEvent) GetId() string {
	return "transport.participant_joined"
}

type ParticipantLeftEvent struct {
	Identity string
}

func (e *ParticipantLeftEvent) GetId() string {
	return "transport.participant_left"
}
