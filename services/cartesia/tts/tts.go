// Package tts is the Cartesia websocket TTS client, used as the backup voice.
package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voiceagent/core"
	"voiceagent/utils/wsclient"
)

var ErrNoSession = errors.New("cartesia: no active session")

type CartesiaTTSConfig struct {
	APIKey     string `json:"-" mapstructure:"api_key"`
	BaseURL    string `json:"base_url" mapstructure:"base_url"`
	ModelID    string `json:"model_id" mapstructure:"model_id"`
	VoiceID    string `json:"voice_id" mapstructure:"voice_id"`
	Language   string `json:"language" mapstructure:"language"`
	APIVersion string `json:"api_version" mapstructure:"api_version"`
	SampleRate int    `json:"sample_rate" mapstructure:"sample_rate"`
}

func DefaultConfig() CartesiaTTSConfig {
	return CartesiaTTSConfig{
		BaseURL:    "wss://api.cartesia.ai/tts/websocket",
		ModelID:    "sonic-2",
		VoiceID:    "a0e99841-438c-4a64-b679-ae501e7d6091",
		Language:   "en",
		APIVersion: "2024-11-13",
		SampleRate: 24000,
	}
}

type ttsRequest struct {
	ModelID    string       `json:"model_id"`
	Transcript string       `json:"transcript"`
	Voice      voice        `json:"voice"`
	Output     outputFormat `json:"output_format"`
	ContextID  string       `json:"context_id"`
	Continue   bool         `json:"continue"`
	Language   string       `json:"language,omitempty"`
}

type voice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cancelRequest struct {
	ContextID string `json:"context_id"`
	Cancel    bool   `json:"cancel"`
}

type ttsResponse struct {
	Type       string `json:"type"`
	ContextID  string `json:"context_id"`
	StatusCode int    `json:"status_code"`
	Done       bool   `json:"done"`
	Data       string `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CartesiaTTS maps each Flush onto one Cartesia context: text is streamed
// with continue=true and the flush closes the context. The context's done
// message becomes the flush marker.
type CartesiaTTS struct {
	config CartesiaTTSConfig
	logger *core.Logger
	ctx    context.Context

	mu       sync.Mutex
	client   *wsclient.Client
	out      chan<- core.SynthesisFrame
	fatal    chan<- error
	current  string
	hasText  bool
	inFlight map[string]struct{} // closed contexts still producing audio
}

func NewCartesiaTTS(config CartesiaTTSConfig, logger *core.Logger) *CartesiaTTS {
	d := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = d.BaseURL
	}
	if config.ModelID == "" {
		config.ModelID = d.ModelID
	}
	if config.VoiceID == "" {
		config.VoiceID = d.VoiceID
	}
	if config.Language == "" {
		config.Language = d.Language
	}
	if config.APIVersion == "" {
		config.APIVersion = d.APIVersion
	}
	if config.SampleRate == 0 {
		config.SampleRate = d.SampleRate
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &CartesiaTTS{
		config:   config,
		logger:   logger.With(map[string]any{"service": "cartesia_tts"}),
		inFlight: make(map[string]struct{}),
	}
}

func (c *CartesiaTTS) Initialize(ctx context.Context) error {
	if c.config.APIKey == "" {
		return errors.New("cartesia: API key is required")
	}
	c.ctx = ctx
	return nil
}

func (c *CartesiaTTS) buildURL() (string, error) {
	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("cartesia: base url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.config.APIKey)
	q.Set("cartesia_version", c.config.APIVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *CartesiaTTS) StartTTSSession(out chan<- core.SynthesisFrame, fatal chan<- error) error {
	if c.ctx == nil {
		return errors.New("cartesia: not initialized")
	}
	wsURL, err := c.buildURL()
	if err != nil {
		return err
	}
	client, err := wsclient.Dial(c.ctx, wsclient.Config{URL: wsURL, PingInterval: 25 * time.Second}, c.logger)
	if err != nil {
		return fmt.Errorf("cartesia: %w", err)
	}

	c.mu.Lock()
	if c.client != nil {
		c.client.Close()
	}
	c.client = client
	c.out = out
	c.fatal = fatal
	c.current = uuid.NewString()
	c.hasText = false
	c.inFlight = make(map[string]struct{})
	c.mu.Unlock()

	c.logger.Info("cartesia tts connected", "model", c.config.ModelID)
	go func() {
		if err := client.Run(c.handleMessage); err != nil {
			c.reportFatal(fmt.Errorf("cartesia: %w", err))
		}
	}()
	return nil
}

func (c *CartesiaTTS) request(transcript, contextID string, more bool) ttsRequest {
	return ttsRequest{
		ModelID:    c.config.ModelID,
		Transcript: transcript,
		Voice:      voice{Mode: "id", ID: c.config.VoiceID},
		Output:     outputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: c.config.SampleRate},
		ContextID:  contextID,
		Continue:   more,
		Language:   c.config.Language,
	}
}

func (c *CartesiaTTS) BufferText(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	c.mu.Lock()
	client, contextID := c.client, c.current
	c.hasText = true
	c.mu.Unlock()
	if client == nil {
		return ErrNoSession
	}
	if err := client.WriteJSON(c.request(text, contextID, true)); err != nil {
		return fmt.Errorf("cartesia: send text: %w", err)
	}
	return nil
}

// Flush closes the current context and opens a new one. A flush with no
// text still yields a marker so every Flush is answered.
func (c *CartesiaTTS) Flush() error {
	c.mu.Lock()
	client, contextID, hasText := c.client, c.current, c.hasText
	c.current = uuid.NewString()
	c.hasText = false
	if hasText {
		c.inFlight[contextID] = struct{}{}
	}
	c.mu.Unlock()
	if client == nil {
		return ErrNoSession
	}
	if !hasText {
		go c.emit(core.SynthesisFrame{Flushed: true})
		return nil
	}
	if err := client.WriteJSON(c.request("", contextID, false)); err != nil {
		return fmt.Errorf("cartesia: flush: %w", err)
	}
	return nil
}

// Clear cancels every open context. Their late audio is dropped.
func (c *CartesiaTTS) Clear() error {
	c.mu.Lock()
	client := c.client
	contexts := make([]string, 0, len(c.inFlight)+1)
	for id := range c.inFlight {
		contexts = append(contexts, id)
	}
	if c.hasText {
		contexts = append(contexts, c.current)
	}
	c.inFlight = make(map[string]struct{})
	c.current = uuid.NewString()
	c.hasText = false
	c.mu.Unlock()
	if client == nil {
		return ErrNoSession
	}
	for _, id := range contexts {
		if err := client.WriteJSON(cancelRequest{ContextID: id, Cancel: true}); err != nil {
			return fmt.Errorf("cartesia: cancel %s: %w", id, err)
		}
	}
	return nil
}

func (c *CartesiaTTS) Reset() error {
	c.mu.Lock()
	connected := c.client != nil
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.Clear()
}

func (c *CartesiaTTS) Cleanup() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

func (c *CartesiaTTS) live(contextID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if contextID == c.current && c.hasText {
		return true
	}
	_, ok := c.inFlight[contextID]
	return ok
}

func (c *CartesiaTTS) handleMessage(messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}
	var resp ttsResponse
	if err := sonic.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("undecodable cartesia message", "error", err)
		return
	}

	switch resp.Type {
	case "chunk":
		if resp.Data == "" || !c.live(resp.ContextID) {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(resp.Data)
		if err != nil {
			c.logger.Warn("bad cartesia audio chunk", "error", err)
			return
		}
		chunk := core.NewPCMChunk(pcm, c.config.SampleRate, 1)
		c.emit(core.SynthesisFrame{Audio: &chunk})
	case "done":
		c.mu.Lock()
		_, ok := c.inFlight[resp.ContextID]
		delete(c.inFlight, resp.ContextID)
		c.mu.Unlock()
		if ok {
			c.emit(core.SynthesisFrame{Flushed: true})
		}
	case "error":
		c.reportFatal(fmt.Errorf("cartesia error (status %d): %s", resp.StatusCode, resp.Error))
	}
}

func (c *CartesiaTTS) emit(frame core.SynthesisFrame) {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- frame:
	case <-c.ctx.Done():
	}
}

func (c *CartesiaTTS) reportFatal(err error) {
	c.mu.Lock()
	fatal := c.fatal
	c.mu.Unlock()
	if fatal == nil {
		return
	}
	select {
	case fatal <- err:
	case <-c.ctx.Done():
	}
}
