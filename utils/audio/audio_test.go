package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent/core"
)

func sine(n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		// 1kHz at 16kHz: 16 samples per period.
		phase := float64(i%16) / 16
		switch {
		case phase < 0.5:
			out[i] = int16(amp)
		default:
			out[i] = int16(-amp)
		}
	}
	return out
}

func TestULawRoundTripIsClose(t *testing.T) {
	pcm := Int16ToBytes([]int16{0, 1000, -1000, 20000, -20000})
	ulaw, err := PCMBytesToULaw(pcm)
	require.NoError(t, err)
	require.Len(t, ulaw, 5)

	back := BytesToInt16(ULawBytesToPCM(ulaw))
	for i, s := range BytesToInt16(pcm) {
		assert.InDelta(t, s, back[i], 700)
	}
}

func TestPCMBytesToULawRejectsOddLength(t *testing.T) {
	_, err := PCMBytesToULaw([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrOddPCMLength)
}

func TestConverterStereoToMonoSameRate(t *testing.T) {
	stereo := make([]int16, 640)
	for i := range stereo {
		if i%2 == 0 {
			stereo[i] = 1000
		} else {
			stereo[i] = 3000
		}
	}
	data := Int16ToBytes(stereo)
	c := NewConverter(core.PCM, 1, 16000)

	out, err := c.Convert(core.AudioChunk{Data: &data, SampleRate: 16000, Channels: 2, Format: core.PCM})
	require.NoError(t, err)
	assert.Equal(t, 16000, out.SampleRate)
	assert.Equal(t, 1, out.Channels)
	samples := BytesToInt16(out.Bytes())
	require.Len(t, samples, 320)
	assert.Equal(t, int16(2000), samples[10])
}

func TestConverterDecodesULaw(t *testing.T) {
	pcm := Int16ToBytes(sine(160, 8000))
	ulaw, err := PCMBytesToULaw(pcm)
	require.NoError(t, err)
	c := NewConverter(core.PCM, 1, 8000)

	out, err := c.Convert(core.AudioChunk{Data: &ulaw, SampleRate: 8000, Channels: 1, Format: core.ULAW})
	require.NoError(t, err)
	assert.Equal(t, core.PCM, out.Format)
	assert.Len(t, out.Bytes(), 320)
}

func TestConverterPassesMatchingChunkThrough(t *testing.T) {
	data := Int16ToBytes(sine(320, 4000))
	in := core.AudioChunk{Data: &data, SampleRate: 16000, Channels: 1, Format: core.PCM}

	out, err := NewConverter(core.PCM, 1, 16000).Convert(in)
	require.NoError(t, err)
	assert.Same(t, in.Data, out.Data)
}

func TestConverterUnsupportedChannels(t *testing.T) {
	data := make([]byte, 12)
	_, err := NewConverter(core.PCM, 1, 16000).Convert(core.AudioChunk{Data: &data, SampleRate: 16000, Channels: 3})
	assert.Error(t, err)
}

func TestConverterRejectsMissingData(t *testing.T) {
	_, err := NewConverter(core.PCM, 1, 16000).Convert(core.AudioChunk{SampleRate: 16000, Channels: 1})
	assert.Error(t, err)
}

func TestNewResamplerRejectsInvalidRates(t *testing.T) {
	_, err := NewResampler(0, 16000)
	assert.Error(t, err)
}
