//go:build cgo

package audio

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whiteNoise(rng *rand.Rand, n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((rng.Float64()*2 - 1) * amp)
	}
	return out
}

func TestRNNoiseSuppressesStationaryNoise(t *testing.T) {
	d, err := NewDenoiser(16000, DenoiseOptions{})
	require.NoError(t, err)
	defer d.Close()

	rng := rand.New(rand.NewPCG(1, 2))
	var in, out []int16
	for i := 0; i < 150; i++ {
		chunk := whiteNoise(rng, 320, 3000)
		in = append(in, chunk...)
		got, err := d.Denoise(Int16ToBytes(chunk))
		require.NoError(t, err)
		out = append(out, BytesToInt16(got)...)
	}

	assert.InDelta(t, len(in), len(out), 2000)
	require.Greater(t, len(out), len(in)/2)
	assert.Less(t, rms(out[len(out)/2:]), rms(in[len(in)/2:])*0.5)
}

func TestRNNoiseRejectsOddInputAndUseAfterClose(t *testing.T) {
	d, err := NewRNNoiseDenoiser(48000)
	require.NoError(t, err)

	_, err = d.Denoise([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrOddPCMLength)

	out, err := d.Denoise(Int16ToBytes(make([]int16, 960)))
	require.NoError(t, err)
	assert.Len(t, out, 960*2)

	require.NoError(t, d.Close())
	_, err = d.Denoise(Int16ToBytes(make([]int16, 480)))
	assert.Error(t, err)
}
