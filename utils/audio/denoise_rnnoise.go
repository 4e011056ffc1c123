//go:build cgo

package audio

/*
#cgo CFLAGS: -I/usr/local/include -I/usr/include
#cgo LDFLAGS: -lrnnoise -lm
#include <stdlib.h>
#include <rnnoise.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

const (
	// RNNoise only runs at 48 kHz, in 10ms frames.
	rnnoiseSampleRate = 48000
	rnnoiseFrameSize  = 480
)

var errDenoiserClosed = errors.New("rnnoise: denoiser is closed")

// RNNoiseDenoiser suppresses noise with librnnoise. Input at other rates is
// resampled to 48 kHz and back; partial frames wait for the next call.
type RNNoiseDenoiser struct {
	mu    sync.Mutex
	state *C.DenoiseState
	rate  int
	up    *Resampler // nil at 48 kHz
	down  *Resampler

	pending []float32
	frame   []float32
}

// NewDenoiser returns an RNNoise denoiser for mono PCM at sampleRate.
func NewDenoiser(sampleRate int, _ DenoiseOptions) (Denoiser, error) {
	return NewRNNoiseDenoiser(sampleRate)
}

func NewRNNoiseDenoiser(sampleRate int) (*RNNoiseDenoiser, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("rnnoise: invalid sample rate %d", sampleRate)
	}
	d := &RNNoiseDenoiser{
		rate:    sampleRate,
		pending: make([]float32, 0, rnnoiseFrameSize*4),
		frame:   make([]float32, rnnoiseFrameSize),
	}
	if sampleRate != rnnoiseSampleRate {
		var err error
		if d.up, err = NewResampler(sampleRate, rnnoiseSampleRate); err != nil {
			return nil, fmt.Errorf("rnnoise: upsampler: %w", err)
		}
		if d.down, err = NewResampler(rnnoiseSampleRate, sampleRate); err != nil {
			return nil, fmt.Errorf("rnnoise: downsampler: %w", err)
		}
	}
	d.state = C.rnnoise_create(nil)
	if d.state == nil {
		return nil, errors.New("rnnoise: failed to allocate state")
	}
	runtime.SetFinalizer(d, (*RNNoiseDenoiser).Close)
	return d, nil
}

// Denoise returns denoised PCM at the input rate.
func (d *RNNoiseDenoiser) Denoise(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddPCMLength
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == nil {
		return nil, errDenoiserClosed
	}

	at48k := pcm
	if d.up != nil {
		var err error
		if at48k, err = d.up.Process(pcm); err != nil {
			return nil, fmt.Errorf("rnnoise: %w", err)
		}
	}
	for _, s := range BytesToInt16(at48k) {
		d.pending = append(d.pending, float32(s))
	}

	var out []int16
	for len(d.pending) >= rnnoiseFrameSize {
		C.rnnoise_process_frame(
			d.state,
			(*C.float)(unsafe.Pointer(&d.frame[0])),
			(*C.float)(unsafe.Pointer(&d.pending[0])),
		)
		for _, v := range d.frame {
			out = append(out, clamp16(float64(v)))
		}
		d.pending = d.pending[:copy(d.pending, d.pending[rnnoiseFrameSize:])]
	}
	if len(out) == 0 {
		return nil, nil
	}

	cleaned := Int16ToBytes(out)
	if d.down == nil {
		return cleaned, nil
	}
	back, err := d.down.Process(cleaned)
	if err != nil {
		return nil, fmt.Errorf("rnnoise: %w", err)
	}
	return back, nil
}

// Reset drops partial frames and resampler state. The model keeps its
// learned noise profile.
func (d *RNNoiseDenoiser) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = d.pending[:0]
	if d.up != nil {
		d.up.Reset()
		d.down.Reset()
	}
}

func (d *RNNoiseDenoiser) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != nil {
		C.rnnoise_destroy(d.state)
		d.state = nil
	}
	if d.up != nil {
		d.up.Reset()
		d.down.Reset()
	}
	return nil
}
