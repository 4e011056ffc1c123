package llm

import "time"

type LLMHandlerConfig struct {
	// CancelOnInterruption drops the in-flight completion once the user
	// barges in.
	CancelOnInterruption bool `json:"cancel_on_interruption" mapstructure:"cancel_on_interruption"`
	// ResponseTimeout bounds a single completion. Zero disables it.
	ResponseTimeout time.Duration `json:"response_timeout" mapstructure:"response_timeout"`
}

func DefaultConfig() LLMHandlerConfig {
	return LLMHandlerConfig{
		CancelOnInterruption: true,
		ResponseTimeout:      30 * time.Second,
	}
}
