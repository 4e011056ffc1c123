package core

// SynthesisFrame is one item of a TTS stream. Audio frames and flush markers
// share a channel so a marker is never seen before the audio it follows.
type SynthesisFrame struct {
	Audio *AudioChunk
	// Flushed marks that all audio for the oldest pending flush was delivered.
	Flushed bool
}
