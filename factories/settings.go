package factories

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultSettingsPath = "settings.json"
	DefaultAgentName    = "dr-aria"
)

// LiveKitSettings carries the server endpoint and credentials. They are
// normally supplied by LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET.
type LiveKitSettings struct {
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// Configured reports whether every credential is present.
func (s LiveKitSettings) Configured() bool {
	return s.URL != "" && s.APIKey != "" && s.APISecret != ""
}

type WorkerSettings struct {
	AgentName    string        `mapstructure:"agent_name"`
	Version      string        `mapstructure:"version"`
	MaxJobs      uint32        `mapstructure:"max_jobs"`
	DevMode      bool          `mapstructure:"dev_mode"`
	HTTPPort     int           `mapstructure:"http_port"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	LogDir       string        `mapstructure:"log_dir"`
	// TimeoutSeconds caps a single consultation. Zero runs until disconnect.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// SessionTimeout returns TimeoutSeconds as a duration.
func (w WorkerSettings) SessionTimeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// Settings is the top-level worker configuration.
type Settings struct {
	LiveKit LiveKitSettings `mapstructure:"livekit"`
	Worker  WorkerSettings  `mapstructure:"worker"`
	Session SessionConfig   `mapstructure:"session"`
}

func DefaultSettings() Settings {
	return Settings{
		Worker: WorkerSettings{
			AgentName:      DefaultAgentName,
			Version:        "1.0.0",
			MaxJobs:        1,
			HTTPPort:       9999,
			DrainTimeout:   30 * time.Minute,
			LogDir:         "logs",
			TimeoutSeconds: 3000,
		},
		Session: DefaultSessionConfig(),
	}
}

// envBindings maps settings keys to the environment variables that override them.
var envBindings = map[string]string{
	"livekit.url":                          "LIVEKIT_URL",
	"livekit.api_key":                      "LIVEKIT_API_KEY",
	"livekit.api_secret":                   "LIVEKIT_API_SECRET",
	"worker.timeout_seconds":               "WORKER_TIMEOUT_SECONDS",
	"worker.log_dir":                       "LOG_DIR",
	"worker.agent_name":                    "AGENT_NAME",
	"session.vad.silero.onnx_path":         "SILERO_MODEL_PATH",
	"session.vad.silero.onnx_runtime_path": "ONNX_RUNTIME_PATH",
}

// LoadSettings reads settings from SETTINGS_JSON_B64 when set, otherwise from
// the JSON file at SETTINGS_PATH (default settings.json). A missing file
// yields the defaults. Environment variables in envBindings override both.
func LoadSettings() (Settings, error) {
	if encoded := os.Getenv("SETTINGS_JSON_B64"); encoded != "" {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return DefaultSettings(), fmt.Errorf("settings: decode SETTINGS_JSON_B64: %w", err)
		}
		return SettingsFromJSON(data)
	}
	path := os.Getenv("SETTINGS_PATH")
	if path == "" {
		path = DefaultSettingsPath
	}
	return SettingsFromFile(path)
}

// SettingsFromFile reads a JSON settings file. A missing file is not an error.
func SettingsFromFile(path string) (Settings, error) {
	v := newViper()
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return DefaultSettings(), fmt.Errorf("settings: read %q: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return DefaultSettings(), fmt.Errorf("settings: stat %q: %w", path, err)
	}
	return unmarshalSettings(v)
}

// SettingsFromJSON parses a JSON settings document on top of the defaults.
func SettingsFromJSON(data []byte) (Settings, error) {
	v := newViper()
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return DefaultSettings(), fmt.Errorf("settings: parse: %w", err)
	}
	return unmarshalSettings(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

func unmarshalSettings(v *viper.Viper) (Settings, error) {
	s := DefaultSettings()
	if err := v.Unmarshal(&s); err != nil {
		return DefaultSettings(), fmt.Errorf("settings: decode: %w", err)
	}
	return s, nil
}
