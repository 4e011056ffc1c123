package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zaf/g711"
)

var ErrOddPCMLength = errors.New("PCM byte slice length must be even (16-bit samples)")

func PCMBytesToULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddPCMLength
	}
	return g711.EncodeUlaw(pcm), nil
}

func ULawBytesToPCM(u []byte) []byte {
	return g711.DecodeUlaw(u)
}

func PCMBytesToALaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddPCMLength
	}
	return g711.EncodeAlaw(pcm), nil
}

func ALawBytesToPCM(a []byte) []byte {
	return g711.DecodeAlaw(a)
}

// BytesToInt16 decodes little-endian 16-bit PCM. A trailing odd byte is dropped.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Int16ToFloat32 scales samples into [-1, 1).
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

func convertChannels(pcm []byte, fromChannels, toChannels int) ([]byte, error) {
	switch {
	case fromChannels == toChannels:
		return pcm, nil
	case fromChannels == 1 && toChannels == 2:
		return monoToStereo(pcm), nil
	case fromChannels == 2 && toChannels == 1:
		return stereoToMono(pcm), nil
	}
	return nil, fmt.Errorf("unsupported channel conversion: %d to %d", fromChannels, toChannels)
}

func monoToStereo(mono []byte) []byte {
	samples := len(mono) / 2
	out := make([]byte, samples*4)
	for i := 0; i < samples; i++ {
		copy(out[i*4:i*4+2], mono[i*2:i*2+2])
		copy(out[i*4+2:i*4+4], mono[i*2:i*2+2])
	}
	return out
}

func stereoToMono(stereo []byte) []byte {
	samples := len(stereo) / 4
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		left := int16(binary.LittleEndian.Uint16(stereo[i*4:]))
		right := int16(binary.LittleEndian.Uint16(stereo[i*4+2:]))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((int(left)+int(right))/2)))
	}
	return out
}

func clamp16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
