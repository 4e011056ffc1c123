package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/sashabaranov/go-openai"

	"voiceagent/core"
)

// Provider names an OpenAI-compatible endpoint.
type Provider string

const (
	ProviderCerebras Provider = "cerebras"
	ProviderOpenAI   Provider = "openai"
	ProviderGroq     Provider = "groq"
)

type preset struct {
	baseURL string
	model   string
	envKey  string
}

var presets = map[Provider]preset{
	ProviderCerebras: {baseURL: "https://api.cerebras.ai/v1", model: "llama3.1-8b", envKey: "CEREBRAS_API_KEY"},
	ProviderOpenAI:   {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini", envKey: "OPENAI_API_KEY"},
	ProviderGroq:     {baseURL: "https://api.groq.com/openai/v1", model: "llama-3.1-8b-instant", envKey: "GROQ_API_KEY"},
}

// Config holds the configuration for an OpenAI-compatible service.
type Config struct {
	Provider    Provider `json:"provider" mapstructure:"provider"`
	APIKey      string   `json:"-" mapstructure:"api_key"`
	BaseURL     string   `json:"base_url" mapstructure:"base_url"`
	Model       string   `json:"model" mapstructure:"model"`
	MaxTokens   int      `json:"max_tokens" mapstructure:"max_tokens"`
	// Temperature is nil when unset. Zero is a valid setting.
	Temperature *float32 `json:"temperature" mapstructure:"temperature"`
	Streaming   bool     `json:"streaming" mapstructure:"streaming"`
}

// Temperature returns a pointer for Config.Temperature.
func Temperature(v float32) *float32 {
	return &v
}

// DefaultConfig returns the preset for provider with streaming on.
// Unknown providers fall back to Cerebras.
func DefaultConfig(provider Provider) Config {
	p, ok := presets[provider]
	if !ok {
		provider = ProviderCerebras
		p = presets[provider]
	}
	return Config{
		Provider:    provider,
		BaseURL:     p.baseURL,
		Model:       p.model,
		MaxTokens:   300,
		Temperature: Temperature(0.7),
		Streaming:   true,
	}
}

// APIKeyEnv names the environment variable holding the provider's key.
func APIKeyEnv(provider Provider) string {
	if p, ok := presets[provider]; ok {
		return p.envKey
	}
	return presets[ProviderCerebras].envKey
}

// OpenAILLMService streams chat completions from any OpenAI-compatible API.
type OpenAILLMService struct {
	config Config
	logger *core.Logger

	mu     sync.RWMutex
	client *openai.Client
}

func NewOpenAILLMService(config Config, logger *core.Logger) *OpenAILLMService {
	defaults := DefaultConfig(config.Provider)
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Provider == "" {
		config.Provider = defaults.Provider
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &OpenAILLMService{
		config: config,
		logger: logger.With(map[string]any{"service": "llm", "provider": string(config.Provider)}),
	}
}

func (s *OpenAILLMService) Config() Config {
	return s.config
}

func (s *OpenAILLMService) Initialize(ctx context.Context) error {
	if s.config.APIKey == "" {
		return fmt.Errorf("%s: api key is required", s.config.Provider)
	}
	cfg := openai.DefaultConfig(s.config.APIKey)
	cfg.BaseURL = s.config.BaseURL

	s.mu.Lock()
	s.client = openai.NewClientWithConfig(cfg)
	s.mu.Unlock()

	s.logger.Info("llm ready", "model", s.config.Model, "base_url", s.config.BaseURL)
	return nil
}

func (s *OpenAILLMService) Cleanup() error {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	return nil
}

// Reset is a no-op: completions are cancelled through their context.
func (s *OpenAILLMService) Reset() error { return nil }

func (s *OpenAILLMService) RunCompletion(ctx context.Context, llmCtx core.LLMContext, out chan<- string) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return errors.New("llm service not initialized")
	}

	req := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    convertMessages(llmCtx.Messages),
		MaxTokens:   s.config.MaxTokens,
		Temperature: requestTemperature(s.config.Temperature),
		Stream:      s.config.Streaming,
	}

	if !s.config.Streaming {
		resp, err := client.CreateChatCompletion(ctx, req)
		if err != nil {
			return fmt.Errorf("create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil
		}
		return send(ctx, out, resp.Choices[0].Message.Content)
	}

	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("create completion stream: %w", err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream recv: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		if err := send(ctx, out, response.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

// requestTemperature maps the configured value onto the request field. The
// field is omitted when zero, so an explicit zero is sent as the smallest
// positive float instead.
func requestTemperature(t *float32) float32 {
	switch {
	case t == nil:
		return 0
	case *t == 0:
		return math.SmallestNonzeroFloat32
	default:
		return *t
	}
}

func send(ctx context.Context, out chan<- string, chunk string) error {
	if chunk == "" {
		return nil
	}
	select {
	case out <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func convertMessages(messages []core.LLMMessage) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Message,
		})
	}
	return converted
}

func convertRole(role core.LLMMessageRole) string {
	switch role {
	case core.LLMMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.LLMMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
