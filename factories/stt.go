package factories

import (
	"errors"

	"voiceagent/core"
	stthandler "voiceagent/handlers/stt"
	deepgramstt "voiceagent/services/deepgram/stt"
)

// BuildSTTService constructs the Deepgram streaming recognizer.
func BuildSTTService(config deepgramstt.DeepgramConfig, keys APIKeys, logger *core.Logger) (stthandler.ISTTService, error) {
	if config.APIKey == "" {
		config.APIKey = keys.Deepgram
	}
	if config.APIKey == "" {
		return nil, errors.New("stt deepgram: DEEPGRAM_API_KEY is not set")
	}
	defaults := deepgramstt.DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Language == "" {
		config.Language = defaults.Language
	}
	return deepgramstt.NewDeepgramSTTService(&config, logger), nil
}
