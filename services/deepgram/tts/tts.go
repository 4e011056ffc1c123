// Package tts streams text to Deepgram's speak websocket and returns audio.
package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"voiceagent/core"
	"voiceagent/utils/audio"
	"voiceagent/utils/wsclient"
)

// maxCharsBeforeFlush is the character limit before an automatic flush.
// Deepgram returns DATA-0001 (1008) if too many characters are buffered
// between flushes.
const maxCharsBeforeFlush = 2000

// pingInterval stays under Deepgram's ~10 s idle timeout. The speak API has
// no application KeepAlive so websocket pings are used.
const pingInterval = 8 * time.Second

var ErrNoSession = errors.New("deepgram tts: no active session")

type DeepgramTTSConfig struct {
	APIKey     string `json:"-" mapstructure:"api_key"`
	BaseURL    string `json:"base_url" mapstructure:"base_url"`
	Model      string `json:"model" mapstructure:"model"`
	Encoding   string `json:"encoding" mapstructure:"encoding"` // linear16, mulaw or alaw
	SampleRate int    `json:"sample_rate" mapstructure:"sample_rate"`
}

func DefaultConfig() DeepgramTTSConfig {
	return DeepgramTTSConfig{
		BaseURL:    "wss://api.deepgram.com/v1/speak",
		Model:      "aura-asteria-en",
		Encoding:   "linear16",
		SampleRate: 24000,
	}
}

// Format maps the configured encoding name to an audio format.
func (c DeepgramTTSConfig) Format() core.AudioEncodingFormat {
	switch c.Encoding {
	case "mulaw":
		return core.ULAW
	case "alaw":
		return core.ALAW
	default:
		return core.PCM
	}
}

// Client messages.
type (
	speakText struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	speakControl struct {
		Type string `json:"type"`
	}
)

// Server messages share a type field; only the fields used are decoded.
type speakResponse struct {
	Type        string  `json:"type"`
	RequestID   string  `json:"request_id,omitempty"`
	ModelName   string  `json:"model_name,omitempty"`
	SequenceID  float64 `json:"sequence_id,omitempty"`
	Description string  `json:"description,omitempty"`
	Code        string  `json:"code,omitempty"`
}

type DeepgramTTS struct {
	config DeepgramTTSConfig
	logger *core.Logger
	ctx    context.Context

	mu     sync.Mutex
	client *wsclient.Client
	out    chan<- core.SynthesisFrame
	fatal  chan<- error

	chars int
	// clearing drops audio and flush markers until Deepgram acknowledges the Clear.
	clearing bool
	// autoFlushes counts Flushed replies owed to flushes the caller did not ask for.
	autoFlushes int
}

func NewDeepgramTTS(config DeepgramTTSConfig, logger *core.Logger) *DeepgramTTS {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Encoding == "" {
		config.Encoding = defaults.Encoding
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaults.SampleRate
		if config.Format() != core.PCM {
			config.SampleRate = 8000
		}
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &DeepgramTTS{
		config: config,
		logger: logger.With(map[string]any{"service": "deepgram_tts"}),
	}
}

func (d *DeepgramTTS) Initialize(ctx context.Context) error {
	if d.config.APIKey == "" {
		return errors.New("deepgram tts: API key is required")
	}
	d.ctx = ctx
	return nil
}

func (d *DeepgramTTS) buildURL() (string, error) {
	u, err := url.Parse(d.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("deepgram tts: base url: %w", err)
	}
	q := u.Query()
	q.Set("model", d.config.Model)
	q.Set("encoding", d.config.Encoding)
	q.Set("sample_rate", strconv.Itoa(d.config.SampleRate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StartTTSSession connects and starts reading. Audio and flush markers go to
// out in arrival order.
func (d *DeepgramTTS) StartTTSSession(out chan<- core.SynthesisFrame, fatal chan<- error) error {
	if d.ctx == nil {
		return errors.New("deepgram tts: not initialized")
	}
	wsURL, err := d.buildURL()
	if err != nil {
		return err
	}
	client, err := wsclient.Dial(d.ctx, wsclient.Config{
		URL:          wsURL,
		Header:       http.Header{"Authorization": {"Token " + d.config.APIKey}},
		PingInterval: pingInterval,
	}, d.logger)
	if err != nil {
		return fmt.Errorf("deepgram tts: %w", err)
	}

	d.mu.Lock()
	if d.client != nil {
		d.client.Close()
	}
	d.client = client
	d.out = out
	d.fatal = fatal
	d.chars, d.autoFlushes, d.clearing = 0, 0, false
	d.mu.Unlock()

	d.logger.Info("deepgram tts connected", "model", d.config.Model, "encoding", d.config.Encoding)
	go func() {
		if err := client.Run(d.handleMessage); err != nil {
			d.reportFatal(fmt.Errorf("deepgram tts: %w", err))
		}
	}()
	return nil
}

// runeCut returns the largest offset not past limit that starts a rune.
func runeCut(text string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}

func (d *DeepgramTTS) session() (*wsclient.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil, ErrNoSession
	}
	return d.client, nil
}

// BufferText queues text. Text past the character limit is flushed in
// pieces so Deepgram's buffer never overflows.
func (d *DeepgramTTS) BufferText(text string) error {
	client, err := d.session()
	if err != nil {
		return err
	}
	const chunkSize = maxCharsBeforeFlush - 100
	for len(text) > chunkSize {
		cut := runeCut(text, chunkSize)
		if err := d.sendText(client, text[:cut]); err != nil {
			return err
		}
		if err := d.autoFlush(client); err != nil {
			return err
		}
		text = text[cut:]
	}

	d.mu.Lock()
	over := d.chars+len(text) >= maxCharsBeforeFlush
	d.mu.Unlock()
	if over {
		if err := d.autoFlush(client); err != nil {
			return err
		}
	}
	return d.sendText(client, text)
}

func (d *DeepgramTTS) sendText(client *wsclient.Client, text string) error {
	if text == "" {
		return nil
	}
	if err := client.WriteJSON(speakText{Type: "Speak", Text: text}); err != nil {
		return fmt.Errorf("deepgram tts: speak: %w", err)
	}
	d.mu.Lock()
	d.chars += len(text)
	d.mu.Unlock()
	return nil
}

func (d *DeepgramTTS) autoFlush(client *wsclient.Client) error {
	d.mu.Lock()
	d.autoFlushes++
	d.chars = 0
	d.mu.Unlock()
	d.logger.Debug("auto flush at character limit", "limit", maxCharsBeforeFlush)
	return client.WriteJSON(speakControl{Type: "Flush"})
}

func (d *DeepgramTTS) Flush() error {
	client, err := d.session()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.chars = 0
	d.mu.Unlock()
	if err := client.WriteJSON(speakControl{Type: "Flush"}); err != nil {
		return fmt.Errorf("deepgram tts: flush: %w", err)
	}
	return nil
}

// Clear drops queued text. Audio already in flight is discarded until
// Deepgram confirms with Cleared.
func (d *DeepgramTTS) Clear() error {
	client, err := d.session()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.clearing = true
	d.chars, d.autoFlushes = 0, 0
	d.mu.Unlock()
	if err := client.WriteJSON(speakControl{Type: "Clear"}); err != nil {
		return fmt.Errorf("deepgram tts: clear: %w", err)
	}
	return nil
}

func (d *DeepgramTTS) Reset() error {
	if _, err := d.session(); err != nil {
		return nil
	}
	return d.Clear()
}

func (d *DeepgramTTS) Cleanup() error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()
	if client == nil {
		return nil
	}
	client.WriteJSON(speakControl{Type: "Close"})
	return client.Close()
}

func (d *DeepgramTTS) handleMessage(messageType int, data []byte) {
	switch messageType {
	case websocket.BinaryMessage:
		d.handleAudio(data)
	case websocket.TextMessage:
		d.handleText(data)
	}
}

func (d *DeepgramTTS) handleAudio(data []byte) {
	d.mu.Lock()
	clearing := d.clearing
	d.mu.Unlock()
	if clearing {
		return
	}

	var pcm []byte
	switch d.config.Format() {
	case core.ULAW:
		pcm = audio.ULawBytesToPCM(data)
	case core.ALAW:
		pcm = audio.ALawBytesToPCM(data)
	default:
		pcm = append([]byte(nil), data...)
	}
	chunk := core.NewPCMChunk(pcm, d.config.SampleRate, 1)
	d.emit(core.SynthesisFrame{Audio: &chunk})
}

func (d *DeepgramTTS) handleText(data []byte) {
	var msg speakResponse
	if err := sonic.Unmarshal(data, &msg); err != nil {
		d.logger.Warn("undecodable deepgram message", "error", err)
		return
	}
	switch msg.Type {
	case "Metadata":
		d.logger.Debug("deepgram tts metadata", "request_id", msg.RequestID, "model", msg.ModelName)
	case "Flushed":
		d.mu.Lock()
		skip := d.clearing
		if !skip && d.autoFlushes > 0 {
			d.autoFlushes--
			skip = true
		}
		d.mu.Unlock()
		if !skip {
			d.emit(core.SynthesisFrame{Flushed: true})
		}
	case "Cleared":
		d.mu.Lock()
		d.clearing = false
		d.mu.Unlock()
		d.logger.Debug("deepgram tts cleared", "sequence_id", msg.SequenceID)
	case "Warning":
		d.logger.Warn("deepgram tts warning", "description", msg.Description, "code", msg.Code)
	case "Error":
		d.reportFatal(fmt.Errorf("deepgram tts error: %s (code: %s)", msg.Description, msg.Code))
	}
}

func (d *DeepgramTTS) emit(frame core.SynthesisFrame) {
	d.mu.Lock()
	out := d.out
	d.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- frame:
	case <-d.ctx.Done():
	}
}

func (d *DeepgramTTS) reportFatal(err error) {
	d.mu.Lock()
	fatal := d.fatal
	d.mu.Unlock()
	if fatal == nil {
		return
	}
	select {
	case fatal <- err:
	case <-d.ctx.Done():
	}
}
