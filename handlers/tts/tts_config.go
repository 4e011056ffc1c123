package tts

type TTSConfig struct {
	// MinSentenceLength keeps very short fragments ("Ok.") attached to the
	// following sentence.
	MinSentenceLength int `json:"min_sentence_length" mapstructure:"min_sentence_length"`
	// MaxBufferLength forces a flush at the last word boundary once this many
	// characters wait without a sentence end.
	MaxBufferLength int `json:"max_buffer_length" mapstructure:"max_buffer_length"`
	// ExpandAbbreviations spells out medical and unit abbreviations.
	ExpandAbbreviations bool `json:"expand_abbreviations" mapstructure:"expand_abbreviations"`
}

// DefaultConfig returns a TTSConfig with sensible defaults.
func DefaultConfig() TTSConfig {
	return TTSConfig{
		MinSentenceLength:   12,
		MaxBufferLength:     250,
		ExpandAbbreviations: true,
	}
}

func (c TTSConfig) withDefaults() TTSConfig {
	d := DefaultConfig()
	if c.MinSentenceLength <= 0 {
		c.MinSentenceLength = d.MinSentenceLength
	}
	if c.MaxBufferLength <= 0 {
		c.MaxBufferLength = d.MaxBufferLength
	}
	return c
}
