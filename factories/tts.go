package factories

import (
	"errors"

	"voiceagent/core"
	ttshandler "voiceagent/handlers/tts"
	cartesia "voiceagent/services/cartesia/tts"
	deepgramtts "voiceagent/services/deepgram/tts"
)

// BuildTTSServices returns Deepgram as the primary voice and, when a Cartesia
// key is available, Cartesia as the backup.
func BuildTTSServices(config SessionTTSConfig, keys APIKeys, logger *core.Logger) (ttshandler.TTSService, []ttshandler.TTSService, error) {
	dg := config.Deepgram
	if dg.APIKey == "" {
		dg.APIKey = keys.Deepgram
	}
	if dg.APIKey == "" {
		return nil, nil, errors.New("tts deepgram: DEEPGRAM_API_KEY is not set")
	}
	primary := deepgramtts.NewDeepgramTTS(dg, logger)

	var backups []ttshandler.TTSService
	ct := config.Cartesia
	if ct.APIKey == "" {
		ct.APIKey = keys.Cartesia
	}
	if config.CartesiaBackup && ct.APIKey != "" {
		backups = append(backups, cartesia.NewCartesiaTTS(ct, logger))
	}
	return primary, backups, nil
}
