package core

import "time"

type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // 16-bit little-endian linear PCM.
	ULAW                            // G.711 μ-law.
	ALAW                            // G.711 A-law.
)

func (f AudioEncodingFormat) String() string {
	switch f {
	case ULAW:
		return "mulaw"
	case ALAW:
		return "alaw"
	default:
		return "linear16"
	}
}

type AudioChunk struct {
	Data       *[]byte
	SampleRate int
	Channels   int
	Format     AudioEncodingFormat
	Timestamp  time.Time
}

func (ac *AudioChunk) bytesPerSample() int {
	if ac.Format == ULAW || ac.Format == ALAW {
		return 1
	}
	return 2
}

// Bytes returns the payload or nil.
func (ac *AudioChunk) Bytes() []byte {
	if ac.Data == nil {
		return nil
	}
	return *ac.Data
}

func (ac *AudioChunk) GetDurationInSeconds() float64 {
	if ac.SampleRate == 0 || ac.Channels == 0 || ac.Data == nil {
		return 0.0
	}
	totalSamples := len(*ac.Data) / (ac.bytesPerSample() * ac.Channels)
	return float64(totalSamples) / float64(ac.SampleRate)
}

func (ac *AudioChunk) Duration() time.Duration {
	return time.Duration(ac.GetDurationInSeconds() * float64(time.Second))
}

// NewPCMChunk wraps 16-bit PCM bytes.
func NewPCMChunk(data []byte, sampleRate, channels int) AudioChunk {
	return AudioChunk{
		Data:       &data,
		SampleRate: sampleRate,
		Channels:   channels,
		Format:     PCM,
		Timestamp:  time.Now(),
	}
}
