package silero

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowFor(t *testing.T) {
	w, c, err := windowFor(16000)
	require.NoError(t, err)
	assert.Equal(t, 512, w)
	assert.Equal(t, 64, c)

	w, c, err = windowFor(8000)
	require.NoError(t, err)
	assert.Equal(t, 256, w)
	assert.Equal(t, 32, c)

	_, _, err = windowFor(44100)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "./external/models/silero_vad.onnx", cfg.OnnxPath)
	assert.Equal(t, "./external/onnx/libonnxruntime.so", cfg.OnnxRuntimePath)
}
