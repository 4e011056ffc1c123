package core

// Transcript is one recognition result from a streaming STT service.
type Transcript struct {
	Text       string
	IsFinal    bool
	Confidence float64
}
