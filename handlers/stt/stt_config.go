package stt

type STTConfig struct {
	// ForwardInterim relays interim transcripts downstream.
	ForwardInterim bool `json:"forward_interim" mapstructure:"forward_interim"`
	// FinalizeOnSpeechEnd asks the provider to flush when local VAD ends a turn.
	FinalizeOnSpeechEnd bool `json:"finalize_on_speech_end" mapstructure:"finalize_on_speech_end"`
}

func DefaultConfig() STTConfig {
	return STTConfig{ForwardInterim: true, FinalizeOnSpeechEnd: true}
}
