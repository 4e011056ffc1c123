package stt

// Server messages on /v1/listen.

type listenResults struct {
	Type         string  `json:"type"`
	Duration     float64 `json:"duration"`
	Start        float64 `json:"start"`
	IsFinal      bool    `json:"is_final"`
	SpeechFinal  bool    `json:"speech_final"`
	FromFinalize bool    `json:"from_finalize,omitempty"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type listenMetadata struct {
	Type      string  `json:"type"`
	RequestID string  `json:"request_id"`
	Duration  float64 `json:"duration"`
	Channels  int     `json:"channels"`
}

type listenUtteranceEnd struct {
	Type        string  `json:"type"`
	LastWordEnd float64 `json:"last_word_end"`
}

// Client control messages.

type controlMessage struct {
	Type string `json:"type"`
}

var (
	msgKeepAlive   = controlMessage{Type: "KeepAlive"}
	msgFinalize    = controlMessage{Type: "Finalize"}
	msgCloseStream = controlMessage{Type: "CloseStream"}
)
