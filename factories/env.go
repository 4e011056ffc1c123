package factories

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"voiceagent/core"
)

const envFileName = ".env.local"

// LoadEnvFiles loads .env.local from the working directory and then its
// parent. Variables already set, including ones from the first file, win.
// It returns the files that were loaded.
func LoadEnvFiles(logger *core.Logger) []string {
	if logger == nil {
		logger = core.GetLogger()
	}
	var loaded []string
	for _, path := range []string{envFileName, filepath.Join("..", envFileName)} {
		err := godotenv.Load(path)
		switch {
		case err == nil:
			loaded = append(loaded, path)
		case errors.Is(err, fs.ErrNotExist):
		default:
			logger.Warn("env file not loaded", "path", path, "error", err)
		}
	}
	if len(loaded) == 0 {
		logger.Warn("no .env.local file found, using process environment")
	}
	return loaded
}

// credentialVars are reported at startup. Values are never logged.
var credentialVars = []string{
	"LIVEKIT_API_KEY",
	"LIVEKIT_API_SECRET",
	"DEEPGRAM_API_KEY",
	"CEREBRAS_API_KEY",
	"OPENAI_API_KEY",
	"GROQ_API_KEY",
	"CARTESIA_API_KEY",
}

// CredentialReport maps each credential variable to "SET" or "NOT SET".
func CredentialReport() map[string]string {
	report := make(map[string]string, len(credentialVars))
	for _, key := range credentialVars {
		if os.Getenv(key) != "" {
			report[key] = "SET"
		} else {
			report[key] = "NOT SET"
		}
	}
	return report
}

// LogCredentials prints the credential report. The LiveKit URL is not a
// secret and is printed as is.
func LogCredentials(logger *core.Logger) {
	url := os.Getenv("LIVEKIT_URL")
	if url == "" {
		url = "NOT SET"
	}
	logger.Info("LIVEKIT_URL: " + url)
	report := CredentialReport()
	for _, key := range credentialVars {
		logger.Info(key + ": " + report[key])
	}
}
