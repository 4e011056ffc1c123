package stt

type STTInterimOutputEvent struct {
	Text string
}

func (e *STTInterimOutputEvent) GetId() string {
	return "stt.interim_output"
}

type STTFinalOutputEvent struct {
	Text       string
	Confidence float64
}

func (e *STTFinalOutputEvent) GetId() string {
	return "stt.final_output"
}

// STTUtteranceEndEvent is raised when the provider detects the end of an
// utterance from word timings, independent of local VAD.
type STTUtteranceEndEvent struct{}

func (e *STTUtteranceEndEvent) GetId() string {
	return "stt.utterance_end"
}
