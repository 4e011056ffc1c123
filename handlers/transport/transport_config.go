package transport

import "voiceagent/core"

type TransportConfig struct {
	// Input audio is normalised to this format before it enters the pipeline.
	InSampleRate int `json:"in_sample_rate" mapstructure:"in_sample_rate"`
	InChannels   int `json:"in_channels" mapstructure:"in_channels"`

	// Agent audio is converted to this format before it is published.
	OutSampleRate  int                      `json:"out_sample_rate" mapstructure:"out_sample_rate"`
	OutChannels    int                      `json:"out_channels" mapstructure:"out_channels"`
	OutAudioFormat core.AudioEncodingFormat `json:"-" mapstructure:"-"`

	// NoiseCancellation runs RNNoise over mono input audio. Builds without
	// cgo fall back to a high-pass and noise gate tuned by the two fields below.
	NoiseCancellation bool    `json:"noise_cancellation" mapstructure:"noise_cancellation"`
	NoiseCutoffHz     float64 `json:"noise_cutoff_hz" mapstructure:"noise_cutoff_hz"`
	NoiseGateDBFS     float64 `json:"noise_gate_dbfs" mapstructure:"noise_gate_dbfs"`

	// PublishTranscriptions sends user and agent text to the room.
	PublishTranscriptions bool `json:"publish_transcriptions" mapstructure:"publish_transcriptions"`
	// PublishInterim includes non-final user transcripts.
	PublishInterim bool `json:"publish_interim" mapstructure:"publish_interim"`
}

func DefaultConfig() TransportConfig {
	return TransportConfig{
		InSampleRate:          16000,
		InChannels:            1,
		OutSampleRate:         24000,
		OutChannels:           1,
		OutAudioFormat:        core.PCM,
		NoiseCancellation:     true,
		NoiseCutoffHz:         100,
		NoiseGateDBFS:         -50,
		PublishTranscriptions: true,
	}
}

func (c TransportConfig) withDefaults() TransportConfig {
	d := DefaultConfig()
	if c.InSampleRate <= 0 {
		c.InSampleRate = d.InSampleRate
	}
	if c.InChannels <= 0 {
		c.InChannels = d.InChannels
	}
	if c.OutSampleRate <= 0 {
		c.OutSampleRate = d.OutSampleRate
	}
	if c.OutChannels <= 0 {
		c.OutChannels = d.OutChannels
	}
	if c.NoiseCutoffHz <= 0 {
		c.NoiseCutoffHz = d.NoiseCutoffHz
	}
	if c.NoiseGateDBFS == 0 {
		c.NoiseGateDBFS = d.NoiseGateDBFS
	}
	return c
}
