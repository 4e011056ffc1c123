package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent/core"
)

func TestBuildURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UtteranceEndMs = 1000
	svc := NewDeepgramSTTService(cfg, core.NewLogger(nil))

	raw, err := svc.buildURL()
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "/v1/listen", u.Path)
	q := u.Query()
	assert.Equal(t, "nova-2", q.Get("model"))
	assert.Equal(t, "en", q.Get("language"))
	assert.Equal(t, "linear16", q.Get("encoding"))
	assert.Equal(t, "16000", q.Get("sample_rate"))
	assert.Equal(t, "1000", q.Get("utterance_end_ms"))
	assert.Empty(t, q.Get("endpointing"))
}

func TestInitializeRequiresKey(t *testing.T) {
	svc := NewDeepgramSTTService(DefaultConfig(), core.NewLogger(nil))
	assert.Error(t, svc.Initialize(context.Background()))
}

func TestSessionRelaysTranscripts(t *testing.T) {
	gotAuth := make(chan string, 1)
	gotAudio := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","request_id":"r1"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"I have","confidence":0.7}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"I have a cough","confidence":0.93}]}}`))

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				gotAudio <- data
			}
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.APIKey = "dg-key"
	cfg.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	svc := NewDeepgramSTTService(cfg, core.NewLogger(nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Initialize(ctx))

	out := make(chan core.Transcript, 4)
	svc.StartTranscriptionSession(out, make(chan error, 1))

	assert.Equal(t, "Token dg-key", <-gotAuth)

	var got []core.Transcript
	for len(got) < 2 {
		select {
		case tr := <-out:
			got = append(got, tr)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for transcripts")
		}
	}
	assert.False(t, got[0].IsFinal)
	assert.Equal(t, "I have a cough", got[1].Text)
	assert.True(t, got[1].IsFinal)
	assert.InDelta(t, 0.93, got[1].Confidence, 1e-9)

	pcm := make([]byte, 640)
	require.Eventually(t, func() bool {
		return svc.SendTranscriptionAudio(core.NewPCMChunk(pcm, 16000, 1)) == nil
	}, time.Second, 10*time.Millisecond)
	select {
	case data := <-gotAudio:
		assert.Len(t, data, 640)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive audio")
	}
	require.NoError(t, svc.Cleanup())
}
