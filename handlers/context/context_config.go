package context

import (
	"time"

	"voiceagent/utils/text"
)

type ContextConfig struct {
	// GreetingTimeout bounds how long Greet waits for the opening reply.
	GreetingTimeout time.Duration `json:"greeting_timeout" mapstructure:"greeting_timeout"`
	// FilterFillers drops transcripts made only of hesitation sounds.
	FilterFillers bool          `json:"filter_fillers" mapstructure:"filter_fillers"`
	Language      text.Language `json:"language" mapstructure:"language"`
}

func DefaultConfig() ContextConfig {
	return ContextConfig{
		GreetingTimeout: 15 * time.Second,
		FilterFillers:   true,
		Language:        text.ENGLISH,
	}
}
