package factories

import (
	"context"
	"fmt"
	"os"

	"voiceagent/consultation"
	"voiceagent/core"
	activitycontrol "voiceagent/handlers/activity_control"
	contexthandler "voiceagent/handlers/context"
	llmhandler "voiceagent/handlers/llm"
	stthandler "voiceagent/handlers/stt"
	"voiceagent/handlers/transport"
	ttshandler "voiceagent/handlers/tts"
	vadhandler "voiceagent/handlers/vad"
	cartesia "voiceagent/services/cartesia/tts"
	deepgramstt "voiceagent/services/deepgram/stt"
	deepgramtts "voiceagent/services/deepgram/tts"
	openaillm "voiceagent/services/openai/llm"
	"voiceagent/vad/silero"
)

// SessionVADConfig bundles the VAD handler thresholds with the Silero model paths.
type SessionVADConfig struct {
	Handler vadhandler.VADConfig `mapstructure:"handler"`
	Silero  silero.Config        `mapstructure:"silero"`
}

type SessionSTTConfig struct {
	Handler  stthandler.STTConfig       `mapstructure:"handler"`
	Deepgram deepgramstt.DeepgramConfig `mapstructure:"deepgram"`
}

// SessionLLMConfig selects the primary OpenAI-compatible provider and an
// ordered list of fallbacks tried when it fails.
type SessionLLMConfig struct {
	Handler   llmhandler.LLMHandlerConfig `mapstructure:"handler"`
	Service   openaillm.Config            `mapstructure:"service"`
	Fallbacks []openaillm.Config          `mapstructure:"fallbacks"`
}

type SessionTTSConfig struct {
	Handler  ttshandler.TTSConfig          `mapstructure:"handler"`
	Deepgram deepgramtts.DeepgramTTSConfig `mapstructure:"deepgram"`
	Cartesia cartesia.CartesiaTTSConfig    `mapstructure:"cartesia"`
	// CartesiaBackup registers Cartesia as the backup voice when its key is set.
	CartesiaBackup bool `mapstructure:"cartesia_backup"`
}

// SessionConfig is the provider and tuning selection shared by every
// consultation. The persona itself comes from room metadata per job.
type SessionConfig struct {
	VAD             SessionVADConfig             `mapstructure:"vad"`
	STT             SessionSTTConfig             `mapstructure:"stt"`
	LLM             SessionLLMConfig             `mapstructure:"llm"`
	TTS             SessionTTSConfig             `mapstructure:"tts"`
	Context         contexthandler.ContextConfig `mapstructure:"context"`
	ActivityControl activitycontrol.Config       `mapstructure:"activity_control"`
	Transport       transport.TransportConfig    `mapstructure:"transport"`
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		VAD: SessionVADConfig{
			Handler: vadhandler.DefaultConfig(),
			Silero:  silero.DefaultConfig(),
		},
		STT: SessionSTTConfig{
			Handler:  stthandler.DefaultConfig(),
			Deepgram: *deepgramstt.DefaultConfig(),
		},
		LLM: SessionLLMConfig{
			Handler: llmhandler.DefaultConfig(),
			Service: openaillm.DefaultConfig(openaillm.ProviderCerebras),
		},
		TTS: SessionTTSConfig{
			Handler:        ttshandler.DefaultConfig(),
			Deepgram:       deepgramtts.DefaultConfig(),
			Cartesia:       cartesia.DefaultConfig(),
			CartesiaBackup: true,
		},
		Context:         contexthandler.DefaultConfig(),
		ActivityControl: activitycontrol.DefaultConfig(),
		Transport:       transport.DefaultConfig(),
	}
}

// APIKeys holds provider credentials. They are read from the environment so
// secrets never live in settings files.
type APIKeys struct {
	Deepgram string
	Cerebras string
	OpenAI   string
	Groq     string
	Cartesia string
}

func APIKeysFromEnv() APIKeys {
	return APIKeys{
		Deepgram: os.Getenv("DEEPGRAM_API_KEY"),
		Cerebras: os.Getenv("CEREBRAS_API_KEY"),
		OpenAI:   os.Getenv("OPENAI_API_KEY"),
		Groq:     os.Getenv("GROQ_API_KEY"),
		Cartesia: os.Getenv("CARTESIA_API_KEY"),
	}
}

// LLM returns the key for an OpenAI-compatible provider.
func (k APIKeys) LLM(provider openaillm.Provider) string {
	switch provider {
	case openaillm.ProviderOpenAI:
		return k.OpenAI
	case openaillm.ProviderGroq:
		return k.Groq
	default:
		return k.Cerebras
	}
}

// SessionHandlers holds one consultation's handlers in pipeline order:
//
//	TransportInput → VAD → STT → UserContext → LLM → AssistantContext
//	  → TTS → ActivityControl → TransportOutput
type SessionHandlers struct {
	Input    *transport.TransportInputHandler
	VAD      *vadhandler.VADHandler
	STT      *stthandler.STTHandler
	Context  *contexthandler.ConsultationContext
	LLM      *llmhandler.LLMHandler
	TTS      *ttshandler.TTSHandler
	Activity *activitycontrol.ActivityControlHandler
	Output   *transport.TransportOutputHandler
}

// Handlers returns the handlers in the order the runner chains them.
func (h *SessionHandlers) Handlers() []core.IHandler {
	return []core.IHandler{
		h.Input,
		h.VAD,
		h.STT,
		h.Context.UserHandler(),
		h.LLM,
		h.Context.AssistantHandler(),
		h.TTS,
		h.Activity,
		h.Output,
	}
}

// Greet asks the LLM for the opening reply.
func (h *SessionHandlers) Greet(ctx context.Context) error {
	return h.Context.Greet(ctx)
}

// BuildHandlers constructs every handler for one consultation on svc.
func (c SessionConfig) BuildHandlers(persona consultation.SessionConfig, svc transport.ITransportService, keys APIKeys, logger *core.Logger) (*SessionHandlers, error) {
	if logger == nil {
		logger = core.GetLogger()
	}

	sttService, err := BuildSTTService(c.STT.Deepgram, keys, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	llmService, err := BuildLLMService(c.LLM.Service, keys, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	llmBackups := make([]llmhandler.LLMService, 0, len(c.LLM.Fallbacks))
	for i, fb := range c.LLM.Fallbacks {
		s, err := BuildLLMService(fb, keys, logger)
		if err != nil {
			logger.Warn("llm fallback skipped", "index", i, "error", err)
			continue
		}
		llmBackups = append(llmBackups, s)
	}

	ttsService, ttsBackups, err := BuildTTSServices(c.TTS, keys, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	wrapper := transport.NewTransportHandlerWrapper(svc, c.Transport, logger)
	return &SessionHandlers{
		Input:    wrapper.GetInputHandler(),
		VAD:      vadhandler.NewVADHandler(silero.NewSileroVadService(c.VAD.Silero, logger), c.VAD.Handler, logger),
		STT:      stthandler.NewSTTHandler(sttService, nil, c.STT.Handler, logger),
		Context:  contexthandler.NewConsultationContext(persona, c.Context, logger),
		LLM:      llmhandler.NewLLMHandler(llmService, llmBackups, c.LLM.Handler, logger),
		TTS:      ttshandler.NewTTSHandler(ttsService, ttsBackups, c.TTS.Handler, logger),
		Activity: activitycontrol.NewActivityControlHandler(c.ActivityControl, logger),
		Output:   wrapper.GetOutputHandler(),
	}, nil
}
