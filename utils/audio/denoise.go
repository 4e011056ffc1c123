package audio

// Denoiser suppresses background noise in one mono 16-bit PCM stream. Output
// may lag input by a frame; state is per stream.
type Denoiser interface {
	Denoise(pcm []byte) ([]byte, error)
	Reset()
	Close() error
}

// DenoiseOptions tune the high-pass and gate used when the module is built
// without cgo. RNNoise ignores them.
type DenoiseOptions struct {
	CutoffHz float64
	GateDBFS float64
}
