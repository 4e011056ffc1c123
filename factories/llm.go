package factories

import (
	"fmt"

	"voiceagent/core"
	llmhandler "voiceagent/handlers/llm"
	openaillm "voiceagent/services/openai/llm"
)

// BuildLLMService constructs an OpenAI-compatible LLM service. Empty fields
// take the provider preset, and a missing API key is taken from keys.
func BuildLLMService(config openaillm.Config, keys APIKeys, logger *core.Logger) (llmhandler.LLMService, error) {
	preset := openaillm.DefaultConfig(config.Provider)
	config.Provider = preset.Provider
	if config.BaseURL == "" {
		config.BaseURL = preset.BaseURL
	}
	if config.Model == "" {
		config.Model = preset.Model
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = preset.MaxTokens
	}
	if config.Temperature == nil {
		config.Temperature = preset.Temperature
	}
	if config.APIKey == "" {
		config.APIKey = keys.LLM(config.Provider)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("llm %s: %s is not set", config.Provider, openaillm.APIKeyEnv(config.Provider))
	}
	return openaillm.NewOpenAILLMService(config, logger), nil
}
