// Package stt streams linear16 audio to Deepgram's live transcription API.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"voiceagent/core"
	"voiceagent/utils/audio"
)

const (
	keepAliveInterval    = 10 * time.Second
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 3
	sampleRate           = 16000
)

var ErrNotConnected = errors.New("deepgram stt: not connected")

type DeepgramConfig struct {
	APIKey         string   `json:"api_key" mapstructure:"api_key"`
	BaseURL        string   `json:"base_url" mapstructure:"base_url"`
	Model          string   `json:"model" mapstructure:"model"`
	Language       string   `json:"language" mapstructure:"language"`
	InterimResults bool     `json:"interim_results" mapstructure:"interim_results"`
	Punctuate      bool     `json:"punctuate" mapstructure:"punctuate"`
	SmartFormat    bool     `json:"smart_format" mapstructure:"smart_format"`
	Endpointing    int      `json:"endpointing" mapstructure:"endpointing"`           // ms, 0 leaves the provider default
	UtteranceEndMs int      `json:"utterance_end_ms" mapstructure:"utterance_end_ms"` // 0 disables UtteranceEnd messages
	Keyterms       []string `json:"keyterms" mapstructure:"keyterms"`
}

func DefaultConfig() *DeepgramConfig {
	return &DeepgramConfig{
		BaseURL:        "wss://api.deepgram.com",
		Model:          "nova-2",
		Language:       "en",
		InterimResults: true,
		Punctuate:      true,
		SmartFormat:    true,
	}
}

type DeepgramSTTService struct {
	config *DeepgramConfig
	logger *core.Logger
	dialer *websocket.Dialer
	// converter carries resampler state across the audio stream.
	converter *audio.Converter

	ctx     context.Context
	writeMu sync.Mutex
	conn    *websocket.Conn

	out   chan<- core.Transcript
	fatal chan<- error
}

func NewDeepgramSTTService(config *DeepgramConfig, logger *core.Logger) *DeepgramSTTService {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.deepgram.com"
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &DeepgramSTTService{
		config:    config,
		logger:    logger.With(map[string]any{"service": "deepgram_stt"}),
		dialer:    websocket.DefaultDialer,
		converter: audio.NewConverter(core.PCM, 1, sampleRate),
	}
}

func (d *DeepgramSTTService) Initialize(ctx context.Context) error {
	if d.config.APIKey == "" {
		return errors.New("deepgram stt: API key is required")
	}
	d.ctx = ctx
	return nil
}

func (d *DeepgramSTTService) Cleanup() error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if d.conn != nil {
		d.writeJSONLocked(msgCloseStream)
		d.conn.Close()
		d.conn = nil
	}
	return nil
}

// Reset flushes whatever audio Deepgram is still holding.
func (d *DeepgramSTTService) Reset() error {
	return d.Finalize()
}

// Finalize asks Deepgram to emit final results for buffered audio.
func (d *DeepgramSTTService) Finalize() error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if d.conn == nil {
		return ErrNotConnected
	}
	return d.writeJSONLocked(msgFinalize)
}

// StartTranscriptionSession connects in the background. Results go to out;
// an unrecoverable connection failure goes to fatal.
func (d *DeepgramSTTService) StartTranscriptionSession(out chan<- core.Transcript, fatal chan<- error) {
	d.out = out
	d.fatal = fatal
	go d.runSession()
}

func (d *DeepgramSTTService) SendTranscriptionAudio(chunk core.AudioChunk) error {
	converted, err := d.converter.Convert(chunk)
	if err != nil {
		return fmt.Errorf("deepgram stt: convert audio: %w", err)
	}
	if len(converted.Bytes()) == 0 {
		return nil
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if d.conn == nil {
		return ErrNotConnected
	}
	if err := d.conn.WriteMessage(websocket.BinaryMessage, converted.Bytes()); err != nil {
		return fmt.Errorf("deepgram stt: send audio: %w", err)
	}
	return nil
}

func (d *DeepgramSTTService) runSession() {
	failures := 0
	for d.ctx.Err() == nil {
		connected, err := d.connectAndListen()
		if d.ctx.Err() != nil {
			return
		}
		if connected {
			failures = 0
		}
		failures++
		d.logger.Warn("deepgram stt session ended", "error", err, "attempt", failures)
		if failures >= maxReconnectAttempts {
			d.reportFatal(fmt.Errorf("deepgram stt: giving up after %d attempts: %w", failures, err))
			return
		}

		select {
		case <-time.After(reconnectDelay):
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *DeepgramSTTService) reportFatal(err error) {
	if d.fatal == nil {
		return
	}
	select {
	case d.fatal <- err:
	case <-d.ctx.Done():
	}
}

func (d *DeepgramSTTService) connectAndListen() (bool, error) {
	wsURL, err := d.buildURL()
	if err != nil {
		return false, err
	}
	header := http.Header{"Authorization": {"Token " + d.config.APIKey}}
	conn, _, err := d.dialer.DialContext(d.ctx, wsURL, header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	d.writeMu.Lock()
	d.conn = conn
	d.writeMu.Unlock()
	d.logger.Info("deepgram stt connected", "model", d.config.Model)

	sessionCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	go d.keepAlive(sessionCtx)
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	defer func() {
		d.writeMu.Lock()
		if d.conn == conn {
			d.conn = nil
		}
		d.writeMu.Unlock()
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := d.handleMessage(payload); err != nil {
			d.logger.Debug("unhandled deepgram message", "error", err)
		}
	}
}

func (d *DeepgramSTTService) buildURL() (string, error) {
	u, err := url.Parse(d.config.BaseURL + "/v1/listen")
	if err != nil {
		return "", fmt.Errorf("deepgram stt: base url: %w", err)
	}
	q := u.Query()
	if d.config.Model != "" {
		q.Set("model", d.config.Model)
	}
	if d.config.Language != "" {
		q.Set("language", d.config.Language)
	}
	q.Set("interim_results", strconv.FormatBool(d.config.InterimResults))
	q.Set("punctuate", strconv.FormatBool(d.config.Punctuate))
	q.Set("smart_format", strconv.FormatBool(d.config.SmartFormat))
	if d.config.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(d.config.Endpointing))
	}
	if d.config.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(d.config.UtteranceEndMs))
	}
	for _, k := range d.config.Keyterms {
		q.Add("keyterm", k)
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *DeepgramSTTService) handleMessage(payload []byte) error {
	var head controlMessage
	if err := sonic.Unmarshal(payload, &head); err != nil {
		return fmt.Errorf("decode type: %w", err)
	}

	switch head.Type {
	case "Results":
		var res listenResults
		if err := sonic.Unmarshal(payload, &res); err != nil {
			return fmt.Errorf("decode results: %w", err)
		}
		d.emitResults(res)
	case "Metadata":
		var meta listenMetadata
		if err := sonic.Unmarshal(payload, &meta); err == nil {
			d.logger.Debug("deepgram metadata", "request_id", meta.RequestID)
		}
	case "UtteranceEnd":
		var end listenUtteranceEnd
		if err := sonic.Unmarshal(payload, &end); err == nil {
			d.logger.Debug("deepgram utterance end", "last_word_end", end.LastWordEnd)
		}
	case "SpeechStarted":
	default:
		return fmt.Errorf("unknown message type %q", head.Type)
	}
	return nil
}

func (d *DeepgramSTTService) emitResults(res listenResults) {
	if len(res.Channel.Alternatives) == 0 || res.Channel.Alternatives[0].Transcript == "" {
		return
	}
	alt := res.Channel.Alternatives[0]
	t := core.Transcript{
		Text:       alt.Transcript,
		IsFinal:    res.IsFinal || res.SpeechFinal || res.FromFinalize,
		Confidence: alt.Confidence,
	}
	if d.out == nil {
		return
	}
	select {
	case d.out <- t:
	case <-d.ctx.Done():
	}
}

func (d *DeepgramSTTService) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.writeMu.Lock()
			if d.conn != nil {
				d.writeJSONLocked(msgKeepAlive)
			}
			d.writeMu.Unlock()
		}
	}
}

func (d *DeepgramSTTService) writeJSONLocked(msg controlMessage) error {
	b, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	return d.conn.WriteMessage(websocket.TextMessage, b)
}
