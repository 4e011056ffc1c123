package vad

import "time"

type VADConfig struct {
	MinConfidence      float32 `json:"min_confidence" mapstructure:"min_confidence"`           // Speech probability threshold, 0.0 to 1.0.
	AllowInterruptions bool    `json:"allow_interruptions" mapstructure:"allow_interruptions"` // Detect user speech over the agent.

	StartDuration time.Duration `json:"start_duration" mapstructure:"start_duration"` // Speech needed before a turn starts.
	StopDuration  time.Duration `json:"stop_duration" mapstructure:"stop_duration"`   // Silence needed before a turn ends.
	PreRoll       time.Duration `json:"pre_roll" mapstructure:"pre_roll"`             // Audio kept from before the turn started.

	// InterruptionConfirmDuration is how long speech over the agent must last
	// before an interruption is confirmed.
	InterruptionConfirmDuration time.Duration `json:"interruption_confirm_duration" mapstructure:"interruption_confirm_duration"`
	// PatienceIncreaseOnInterruption extends StopDuration for a turn that
	// interrupted the agent.
	PatienceIncreaseOnInterruption time.Duration `json:"patience_increase_on_interruption" mapstructure:"patience_increase_on_interruption"`
}

func DefaultConfig() VADConfig {
	return VADConfig{
		MinConfidence:                  0.5,
		AllowInterruptions:             true,
		StartDuration:                  200 * time.Millisecond,
		StopDuration:                   800 * time.Millisecond,
		PreRoll:                        300 * time.Millisecond,
		InterruptionConfirmDuration:    600 * time.Millisecond,
		PatienceIncreaseOnInterruption: 200 * time.Millisecond,
	}
}

func (c VADConfig) withDefaults() VADConfig {
	d := DefaultConfig()
	if c.MinConfidence <= 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.StartDuration <= 0 {
		c.StartDuration = d.StartDuration
	}
	if c.StopDuration <= 0 {
		c.StopDuration = d.StopDuration
	}
	if c.PreRoll <= 0 {
		c.PreRoll = d.PreRoll
	}
	if c.InterruptionConfirmDuration <= 0 {
		c.InterruptionConfirmDuration = d.InterruptionConfirmDuration
	}
	return c
}
