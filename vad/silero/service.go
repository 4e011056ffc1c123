// Package silero scores speech probability with the Silero VAD ONNX model.
package silero

import (
	"context"
	"fmt"

	"voiceagent/core"
	"voiceagent/utils/audio"
)

// Config locates the model and runtime. The speech threshold belongs to the
// VAD handler (min_confidence); this service only reports probabilities.
type Config struct {
	OnnxPath        string `json:"onnx_path" mapstructure:"onnx_path"`
	OnnxRuntimePath string `json:"onnx_runtime_path" mapstructure:"onnx_runtime_path"`
}

func DefaultConfig() Config {
	return Config{
		OnnxPath:        "./external/models/silero_vad.onnx",
		OnnxRuntimePath: "./external/onnx/libonnxruntime.so",
	}
}

// SileroVadService implements the VAD handler's service contract. Input is
// converted to 16 kHz mono PCM before scoring.
type SileroVadService struct {
	config    Config
	model     *model
	converter *audio.Converter
	logger    *core.Logger
}

func NewSileroVadService(config Config, logger *core.Logger) *SileroVadService {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &SileroVadService{
		config:    config,
		model:     newModel(config.OnnxPath),
		converter: audio.NewConverter(core.PCM, 1, 16000),
		logger:    logger,
	}
}

func (s *SileroVadService) Initialize(ctx context.Context) error {
	if err := initEnvironment(s.config.OnnxRuntimePath); err != nil {
		return fmt.Errorf("onnx environment: %w", err)
	}
	s.model.mu.Lock()
	defer s.model.mu.Unlock()
	return s.model.bind(16000)
}

func (s *SileroVadService) Cleanup() error {
	s.logger.Debug("releasing silero session")
	s.model.close()
	return nil
}

func (s *SileroVadService) Reset() error {
	s.model.mu.Lock()
	defer s.model.mu.Unlock()
	s.model.resetState()
	s.converter.Reset()
	return nil
}

// ProcessAudio returns the speech probability of the most recent window.
// Ready is false until a full window has been buffered.
func (s *SileroVadService) ProcessAudio(input core.AudioChunk) (core.VADResult, error) {
	pcm, err := s.converter.Convert(input)
	if err != nil {
		return core.VADResult{}, fmt.Errorf("silero: convert input: %w", err)
	}
	if s.model == nil {
		return core.VADResult{}, errNotLoaded
	}
	samples := audio.Int16ToFloat32(audio.BytesToInt16(pcm.Bytes()))
	prob, ran, err := s.model.score(samples, 16000)
	if err != nil {
		return core.VADResult{}, err
	}
	return core.VADResult{Confidence: prob, Ready: ran}, nil
}
