//go:build !cgo

package audio

import "math"

// NewDenoiser returns the pure Go high-pass and gate. RNNoise needs cgo.
func NewDenoiser(sampleRate int, opts DenoiseOptions) (Denoiser, error) {
	return NewNoiseFilter(sampleRate, opts.CutoffHz, opts.GateDBFS), nil
}

// NoiseFilter is a per-stream input cleaner: a first order high-pass to drop
// rumble and hum, followed by a noise gate with a short hold. It keeps state
// between calls and must not be shared across streams.
type NoiseFilter struct {
	alpha     float64
	prevIn    float64
	prevOut   float64
	threshold float64
	holdLeft  int
	holdSize  int
}

// NewNoiseFilter builds a filter for mono PCM at sampleRate. cutoffHz sets the
// high-pass corner; gateDBFS is the RMS level below which frames are muted.
func NewNoiseFilter(sampleRate int, cutoffHz float64, gateDBFS float64) *NoiseFilter {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	return &NoiseFilter{
		alpha:     rc / (rc + dt),
		threshold: 32768 * math.Pow(10, gateDBFS/20),
		holdSize:  sampleRate / 5, // 200ms
	}
}

// Denoise filters pcm and returns a new buffer.
func (f *NoiseFilter) Denoise(pcm []byte) ([]byte, error) {
	return f.process(pcm), nil
}

func (f *NoiseFilter) process(pcm []byte) []byte {
	samples := BytesToInt16(pcm)
	filtered := make([]float64, len(samples))
	var sumSq float64
	for i, s := range samples {
		x := float64(s)
		y := f.alpha * (f.prevOut + x - f.prevIn)
		f.prevIn, f.prevOut = x, y
		filtered[i] = y
		sumSq += y * y
	}

	out := make([]int16, len(samples))
	if len(samples) == 0 {
		return nil
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	if rms >= f.threshold {
		f.holdLeft = f.holdSize
	} else if f.holdLeft > 0 {
		f.holdLeft -= len(samples)
	} else {
		return Int16ToBytes(out)
	}
	for i, y := range filtered {
		out[i] = clamp16(y)
	}
	return Int16ToBytes(out)
}

// Reset clears filter history.
func (f *NoiseFilter) Reset() {
	f.prevIn, f.prevOut, f.holdLeft = 0, 0, 0
}

func (f *NoiseFilter) Close() error { return nil }
