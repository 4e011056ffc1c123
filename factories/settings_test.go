package factories

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent/consultation"
	openaillm "voiceagent/services/openai/llm"
)

func TestSettingsFromJSONOverridesDefaults(t *testing.T) {
	s, err := SettingsFromJSON([]byte(`{
		"worker": {"agent_name": "dr-aria-staging", "max_jobs": 4, "drain_timeout": "90s"},
		"session": {
			"llm": {"service": {"provider": "groq", "model": "llama-3.3-70b-versatile"}},
			"stt": {"deepgram": {"model": "nova-3"}},
			"tts": {"cartesia_backup": false},
			"transport": {"noise_cancellation": false}
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "dr-aria-staging", s.Worker.AgentName)
	assert.Equal(t, uint32(4), s.Worker.MaxJobs)
	assert.Equal(t, 90*time.Second, s.Worker.DrainTimeout)
	assert.Equal(t, 9999, s.Worker.HTTPPort)

	assert.Equal(t, openaillm.ProviderGroq, s.Session.LLM.Service.Provider)
	assert.Equal(t, "llama-3.3-70b-versatile", s.Session.LLM.Service.Model)
	assert.Equal(t, "nova-3", s.Session.STT.Deepgram.Model)
	assert.Equal(t, "en", s.Session.STT.Deepgram.Language)
	assert.False(t, s.Session.TTS.CartesiaBackup)
	assert.Equal(t, "aura-asteria-en", s.Session.TTS.Deepgram.Model)
	assert.False(t, s.Session.Transport.NoiseCancellation)
	assert.Equal(t, 16000, s.Session.Transport.InSampleRate)
}

func TestSettingsDefaults(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, DefaultAgentName, s.Worker.AgentName)
	assert.Equal(t, openaillm.ProviderCerebras, s.Session.LLM.Service.Provider)
	assert.Equal(t, "llama3.1-8b", s.Session.LLM.Service.Model)
	assert.Equal(t, "nova-2", s.Session.STT.Deepgram.Model)
	assert.True(t, s.Session.Transport.NoiseCancellation)
	assert.Equal(t, 50*time.Minute, s.Worker.SessionTimeout())
}

func TestSettingsEnvironmentOverrides(t *testing.T) {
	t.Setenv("LIVEKIT_URL", "wss://example.livekit.cloud")
	t.Setenv("LIVEKIT_API_KEY", "key")
	t.Setenv("LIVEKIT_API_SECRET", "secret")
	t.Setenv("WORKER_TIMEOUT_SECONDS", "600")
	t.Setenv("SILERO_MODEL_PATH", "/models/silero_vad.onnx")

	s, err := SettingsFromJSON([]byte(`{}`))
	require.NoError(t, err)

	assert.True(t, s.LiveKit.Configured())
	assert.Equal(t, "wss://example.livekit.cloud", s.LiveKit.URL)
	assert.Equal(t, 10*time.Minute, s.Worker.SessionTimeout())
	assert.Equal(t, "/models/silero_vad.onnx", s.Session.VAD.Silero.OnnxPath)
}

func TestLoadSettingsSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"worker": {"http_port": 8081}}`), 0o600))

	t.Setenv("SETTINGS_JSON_B64", "")
	t.Setenv("SETTINGS_PATH", path)
	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 8081, s.Worker.HTTPPort)

	t.Setenv("SETTINGS_JSON_B64", base64.StdEncoding.EncodeToString([]byte(`{"worker": {"http_port": 7070}}`)))
	s, err = LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 7070, s.Worker.HTTPPort)

	t.Setenv("SETTINGS_JSON_B64", "")
	t.Setenv("SETTINGS_PATH", filepath.Join(dir, "missing.json"))
	s, err = LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 9999, s.Worker.HTTPPort)
}

func TestSettingsRejectsInvalidJSON(t *testing.T) {
	_, err := SettingsFromJSON([]byte(`{"worker":`))
	assert.Error(t, err)
}

func TestLiveKitConfigFollowsSettings(t *testing.T) {
	s := DefaultSettings()
	s.LiveKit = LiveKitSettings{URL: "ws://localhost:7880", APIKey: "k", APISecret: "s"}
	s.Worker.AgentName = "dr-aria-dev"
	s.Session.Transport.OutSampleRate = 48000

	cfg := s.LiveKitConfig(nil, nil)

	assert.Equal(t, "ws://localhost:7880", cfg.URL)
	assert.Equal(t, "dr-aria-dev", cfg.AgentName)
	assert.Equal(t, "dr-aria-dev", cfg.Room.AgentName)
	assert.Equal(t, 48000, cfg.Room.OutSampleRate)
	assert.Equal(t, 16000, cfg.Room.InSampleRate)
	assert.Equal(t, "logs", cfg.LogDir)
}

func TestBuildHandlersRequiresKeys(t *testing.T) {
	persona := consultation.DefaultSessionConfig()

	_, err := DefaultSessionConfig().BuildHandlers(persona, stubRoom{}, APIKeys{}, nil)
	assert.ErrorContains(t, err, "DEEPGRAM_API_KEY")

	_, err = DefaultSessionConfig().BuildHandlers(persona, stubRoom{}, APIKeys{Deepgram: "dg"}, nil)
	assert.ErrorContains(t, err, "CEREBRAS_API_KEY")
}

func TestBuildHandlersAssemblesPipelineOrder(t *testing.T) {
	persona := consultation.DefaultSessionConfig()
	keys := APIKeys{Deepgram: "dg", Cerebras: "cb", Cartesia: "ct"}

	h, err := DefaultSessionConfig().BuildHandlers(persona, stubRoom{}, keys, nil)
	require.NoError(t, err)

	handlers := h.Handlers()
	require.Len(t, handlers, 9)
	assert.Same(t, h.Input, handlers[0])
	assert.Same(t, h.Context.UserHandler(), handlers[3])
	assert.Same(t, h.LLM, handlers[4])
	assert.Same(t, h.Context.AssistantHandler(), handlers[5])
	assert.Same(t, h.Output, handlers[8])
	assert.Len(t, h.TTS.BackupServices, 1)
}

func TestAPIKeysForProvider(t *testing.T) {
	keys := APIKeys{Cerebras: "cb", OpenAI: "oa", Groq: "gq"}
	assert.Equal(t, "cb", keys.LLM(openaillm.ProviderCerebras))
	assert.Equal(t, "oa", keys.LLM(openaillm.ProviderOpenAI))
	assert.Equal(t, "gq", keys.LLM(openaillm.ProviderGroq))
}

func TestSettingsKeepExplicitZeroTemperature(t *testing.T) {
	s, err := SettingsFromJSON([]byte(`{"session": {"llm": {"service": {"temperature": 0}}}}`))
	require.NoError(t, err)
	require.NotNil(t, s.Session.LLM.Service.Temperature)
	assert.Zero(t, *s.Session.LLM.Service.Temperature)

	svc, err := BuildLLMService(s.Session.LLM.Service, APIKeys{Cerebras: "cb"}, nil)
	require.NoError(t, err)
	built, ok := svc.(*openaillm.OpenAILLMService)
	require.True(t, ok)
	require.NotNil(t, built.Config().Temperature)
	assert.Zero(t, *built.Config().Temperature)
}

func TestBuildLLMServiceFillsMissingTemperature(t *testing.T) {
	svc, err := BuildLLMService(openaillm.Config{Provider: openaillm.ProviderGroq}, APIKeys{Groq: "gq"}, nil)
	require.NoError(t, err)
	built, ok := svc.(*openaillm.OpenAILLMService)
	require.True(t, ok)
	require.NotNil(t, built.Config().Temperature)
	assert.InDelta(t, 0.7, *built.Config().Temperature, 1e-6)
	assert.Equal(t, "llama-3.1-8b-instant", built.Config().Model)
}

func TestSettingsVADMinConfidenceReachesHandlerConfig(t *testing.T) {
	s, err := SettingsFromJSON([]byte(`{"session": {"vad": {"handler": {"min_confidence": 0.35}}}}`))
	require.NoError(t, err)
	assert.InDelta(t, 0.35, s.Session.VAD.Handler.MinConfidence, 1e-6)
	assert.True(t, s.Session.VAD.Handler.AllowInterruptions)
}
