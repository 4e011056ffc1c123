package audio

import (
	"fmt"
	"sync"

	media "github.com/livekit/media-sdk"
)

// Resampler converts one mono 16-bit PCM stream between sample rates through
// media-sdk (soxr under cgo). Filter state carries over between calls, so one
// Resampler serves exactly one stream.
//
// Input is written in whole rate periods (fromRate/gcd samples) so every write
// maps to an exact number of output samples. The remainder waits for the next
// call or for Flush.
type Resampler struct {
	mu       sync.Mutex
	fromRate int
	toRate   int
	period   int

	pending []int16
	out     media.PCM16Sample
	w       media.PCM16Writer
}

// Rate pairs whose period exceeds 50ms are written unaligned.
const maxPeriodDivisor = 20

func NewResampler(fromRate, toRate int) (*Resampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("resampler: invalid rates %d -> %d", fromRate, toRate)
	}
	period := fromRate / gcd(fromRate, toRate)
	if period > fromRate/maxPeriodDivisor {
		period = 1
	}
	return &Resampler{fromRate: fromRate, toRate: toRate, period: period}, nil
}

func (r *Resampler) FromRate() int { return r.fromRate }

func (r *Resampler) ToRate() int { return r.toRate }

// Process resamples pcm and returns the output that is ready. Early calls
// return less than their share while the filter fills.
func (r *Resampler) Process(pcm []byte) ([]byte, error) {
	if r.fromRate == r.toRate {
		return pcm, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, BytesToInt16(pcm)...)
	n := len(r.pending) / r.period * r.period
	if n == 0 {
		return nil, nil
	}
	if err := r.write(r.pending[:n]); err != nil {
		return nil, err
	}
	r.pending = r.pending[:copy(r.pending, r.pending[n:])]
	return r.drain(), nil
}

// Flush pushes any partial period through, drains the filter tail and
// returns it. The next Process starts a new stream.
func (r *Resampler) Flush() ([]byte, error) {
	if r.fromRate == r.toRate {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if len(r.pending) > 0 {
		err = r.write(r.pending)
		r.pending = r.pending[:0]
	}
	if r.w != nil {
		if cerr := r.w.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("resample %d->%d: flush: %w", r.fromRate, r.toRate, cerr)
		}
		r.w = nil
	}
	return r.drain(), err
}

// Reset drops buffered audio and filter state.
func (r *Resampler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w != nil {
		_ = r.w.Close()
		r.w = nil
	}
	r.pending = r.pending[:0]
	r.out = r.out[:0]
}

func (r *Resampler) write(samples []int16) error {
	if r.w == nil {
		r.w = media.ResampleWriter(media.NewPCM16BufferWriter(&r.out, r.toRate), r.fromRate)
	}
	if err := r.w.WriteSample(media.PCM16Sample(samples)); err != nil {
		return fmt.Errorf("resample %d->%d: %w", r.fromRate, r.toRate, err)
	}
	return nil
}

func (r *Resampler) drain() []byte {
	if len(r.out) == 0 {
		return nil
	}
	b := Int16ToBytes(r.out)
	r.out = r.out[:0]
	return b
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
