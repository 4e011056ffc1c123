package factories

import (
	"net/http"

	"voiceagent/core"
	"voiceagent/transports/livekit"
)

// LiveKitConfig maps the settings onto the worker config. Room audio formats
// follow the session's transport config so decoded input and published
// output need no extra conversion.
func (s Settings) LiveKitConfig(metrics http.Handler, logger *core.Logger) livekit.Config {
	cfg := livekit.DefaultConfig()
	cfg.URL = s.LiveKit.URL
	cfg.APIKey = s.LiveKit.APIKey
	cfg.APISecret = s.LiveKit.APISecret
	cfg.AgentName = s.Worker.AgentName
	cfg.Version = s.Worker.Version
	cfg.MaxJobs = s.Worker.MaxJobs
	cfg.DevMode = s.Worker.DevMode
	cfg.HTTPPort = s.Worker.HTTPPort
	cfg.DrainTimeout = s.Worker.DrainTimeout
	cfg.LogDir = s.Worker.LogDir
	cfg.Metrics = metrics
	if logger != nil {
		cfg.Logger = logger
	}

	room := livekit.DefaultRoomOptions()
	if s.Worker.AgentName != "" {
		room.AgentName = s.Worker.AgentName
	}
	t := s.Session.Transport
	if t.InSampleRate > 0 {
		room.InSampleRate = t.InSampleRate
	}
	if t.InChannels > 0 {
		room.InChannels = t.InChannels
	}
	if t.OutSampleRate > 0 {
		room.OutSampleRate = t.OutSampleRate
	}
	if t.OutChannels > 0 {
		room.OutChannels = t.OutChannels
	}
	cfg.Room = room
	return cfg
}

// BuildLiveKitProvider creates the LiveKit agent worker.
func (s Settings) BuildLiveKitProvider(metrics http.Handler, logger *core.Logger) (*livekit.Provider, error) {
	return livekit.NewProvider(s.LiveKitConfig(metrics, logger))
}
