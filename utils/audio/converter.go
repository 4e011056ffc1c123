package audio

import (
	"errors"
	"fmt"
	"sync"

	"voiceagent/core"
)

// Converter normalises one audio stream to a fixed encoding, channel count
// and sample rate. It owns the stream's resampler, so every stream needs its
// own Converter. Resampling runs on mono audio; stereo input is downmixed
// first and upmixed after when the target is stereo.
type Converter struct {
	mu         sync.Mutex
	format     core.AudioEncodingFormat
	channels   int
	sampleRate int
	resampler  *Resampler
}

func NewConverter(format core.AudioEncodingFormat, channels, sampleRate int) *Converter {
	return &Converter{format: format, channels: channels, sampleRate: sampleRate}
}

// Convert returns input in the target format. While the resampler fills the
// returned chunk may be shorter than the input, or empty.
func (c *Converter) Convert(input core.AudioChunk) (core.AudioChunk, error) {
	if input.Data == nil {
		return input, errors.New("audio chunk has no data")
	}
	if input.Format == c.format && input.Channels == c.channels && input.SampleRate == c.sampleRate {
		return input, nil
	}

	pcm := decodePCM(input.Format, *input.Data)
	var err error
	if input.SampleRate != c.sampleRate {
		pcm, err = c.resample(pcm, input.Channels, input.SampleRate)
		if err == nil {
			pcm, err = convertChannels(pcm, 1, c.channels)
		}
	} else {
		pcm, err = convertChannels(pcm, input.Channels, c.channels)
	}
	if err != nil {
		return core.AudioChunk{}, err
	}
	return c.encode(pcm, input)
}

// Flush returns the audio still held by the resampler. The chunk is empty
// when nothing is pending.
func (c *Converter) Flush() (core.AudioChunk, error) {
	c.mu.Lock()
	r := c.resampler
	c.mu.Unlock()

	var tail []byte
	if r != nil {
		var err error
		if tail, err = r.Flush(); err != nil {
			return core.AudioChunk{}, err
		}
	}
	pcm, err := convertChannels(tail, 1, c.channels)
	if err != nil {
		return core.AudioChunk{}, err
	}
	return c.encode(pcm, core.AudioChunk{})
}

// Reset drops resampler state, for example after an interruption.
func (c *Converter) Reset() {
	c.mu.Lock()
	r := c.resampler
	c.mu.Unlock()
	if r != nil {
		r.Reset()
	}
}

func (c *Converter) resample(pcm []byte, channels, fromRate int) ([]byte, error) {
	mono, err := convertChannels(pcm, channels, 1)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	r := c.resampler
	if r == nil || r.FromRate() != fromRate {
		if r != nil {
			r.Reset()
		}
		if r, err = NewResampler(fromRate, c.sampleRate); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.resampler = r
	}
	c.mu.Unlock()

	return r.Process(mono)
}

func (c *Converter) encode(pcm []byte, input core.AudioChunk) (core.AudioChunk, error) {
	var err error
	switch c.format {
	case core.ULAW:
		pcm, err = PCMBytesToULaw(pcm)
	case core.ALAW:
		pcm, err = PCMBytesToALaw(pcm)
	}
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("encode %s: %w", c.format, err)
	}
	if pcm == nil {
		pcm = []byte{}
	}
	return core.AudioChunk{
		Data:       &pcm,
		SampleRate: c.sampleRate,
		Channels:   c.channels,
		Format:     c.format,
		Timestamp:  input.Timestamp,
	}, nil
}

func decodePCM(format core.AudioEncodingFormat, data []byte) []byte {
	switch format {
	case core.ULAW:
		return ULawBytesToPCM(data)
	case core.ALAW:
		return ALawBytesToPCM(data)
	}
	return data
}
