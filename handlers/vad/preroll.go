package vad

import (
	"encoding/binary"
	"errors"

	"github.com/smallnest/ringbuffer"
)

var errFrameTooLarge = errors.New("audio frame too large for pre-roll buffer")

// preRoll keeps the most recent audio frames, dropping the oldest whole frame
// when full. Frames are stored with a 4 byte length prefix.
type preRoll struct {
	rb *ringbuffer.RingBuffer
}

func newPreRoll(capacity int) *preRoll {
	if capacity < 64 {
		capacity = 64
	}
	return &preRoll{rb: ringbuffer.New(capacity).SetBlocking(false)}
}

func (p *preRoll) push(frame []byte) error {
	need := len(frame) + 4
	if need > p.rb.Capacity() {
		// keep the newest tail of an oversized frame
		frame = frame[len(frame)-(p.rb.Capacity()-4):]
		need = p.rb.Capacity()
		p.rb.Reset()
	}
	for p.rb.Free() < need {
		if !p.dropOldest() {
			p.rb.Reset()
			break
		}
	}

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(frame)))
	if _, err := p.rb.Write(size[:]); err != nil {
		return err
	}
	_, err := p.rb.Write(frame)
	return err
}

func (p *preRoll) pop() ([]byte, bool) {
	if p.rb.IsEmpty() {
		return nil, false
	}
	var size [4]byte
	if n, err := p.rb.Read(size[:]); err != nil || n != 4 {
		return nil, false
	}
	frame := make([]byte, binary.LittleEndian.Uint32(size[:]))
	if len(frame) == 0 {
		return frame, true
	}
	if n, err := p.rb.Read(frame); err != nil || n != len(frame) {
		return nil, false
	}
	return frame, true
}

func (p *preRoll) dropOldest() bool {
	_, ok := p.pop()
	return ok
}

// drain returns every frame, oldest first, and empties the buffer.
func (p *preRoll) drain() [][]byte {
	var frames [][]byte
	for {
		f, ok := p.pop()
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	p.rb.Reset()
	return frames
}

func (p *preRoll) reset() { p.rb.Reset() }
