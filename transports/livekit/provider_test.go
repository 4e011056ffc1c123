package livekit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"voiceagent/core"
)

func newTestProvider(t *testing.T, url string) *Provider {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.APIKey = "devkey"
	cfg.APISecret = "devsecret-devsecret-devsecret-00"
	cfg.AgentName = "dr-aria"
	cfg.DrainTimeout = time.Second
	cfg.Logger = core.NewLogger(nil)
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	return p
}

func readWorkerMessage(t *testing.T, conn *websocket.Conn) *livekit.WorkerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg livekit.WorkerMessage
	require.NoError(t, proto.Unmarshal(data, &msg))
	return &msg
}

func writeServerMessage(t *testing.T, conn *websocket.Conn, msg *livekit.ServerMessage) {
	t.Helper()
	data, err := proto.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func TestProviderRegistersAndAnswersAvailability(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	done := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent" || !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		<-done
		conn.Close()
	}))
	defer server.Close()
	defer close(done)

	p := newTestProvider(t, server.URL)
	defer p.Stop()
	p.connect()

	var conn *websocket.Conn
	select {
	case conn = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not connect")
	}

	register := readWorkerMessage(t, conn).GetRegister()
	require.NotNil(t, register)
	assert.Equal(t, "dr-aria", register.AgentName)
	assert.Equal(t, livekit.JobType_JT_ROOM, register.Type)
	assert.Equal(t, StateConnected, p.State())

	writeServerMessage(t, conn, &livekit.ServerMessage{Message: &livekit.ServerMessage_Register{
		Register: &livekit.RegisterWorkerResponse{WorkerId: "W_test"},
	}})
	writeServerMessage(t, conn, &livekit.ServerMessage{Message: &livekit.ServerMessage_Availability{
		Availability: &livekit.AvailabilityRequest{Job: &livekit.Job{
			Id:   "AJ_abcdefgh12345678",
			Room: &livekit.Room{Name: "healthos_doctor_1"},
		}},
	}})

	answer := readWorkerMessage(t, conn).GetAvailability()
	require.NotNil(t, answer)
	assert.Equal(t, "AJ_abcdefgh12345678", answer.JobId)
	assert.True(t, answer.Available)
	assert.True(t, strings.HasPrefix(answer.ParticipantIdentity, "agent-dr-aria-12345678-"))
	assert.Equal(t, "W_test", p.WorkerID())

	p.jobs.Store("AJ_busy", &activeJob{
		job:    &livekit.Job{Id: "AJ_busy", Room: &livekit.Room{Name: "healthos_doctor_2"}},
		cancel: func() {},
	})
	writeServerMessage(t, conn, &livekit.ServerMessage{Message: &livekit.ServerMessage_Availability{
		Availability: &livekit.AvailabilityRequest{Job: &livekit.Job{
			Id:   "AJ_second",
			Room: &livekit.Room{Name: "healthos_doctor_3"},
		}},
	}})

	answer = readWorkerMessage(t, conn).GetAvailability()
	require.NotNil(t, answer)
	assert.False(t, answer.Available)
	p.jobs.Delete("AJ_busy")
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 16*time.Second, backoff(4))
	assert.Equal(t, MaxReconnectDelay, backoff(5))
	assert.Equal(t, MaxReconnectDelay, backoff(50))
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	p := newTestProvider(t, "http://localhost:7880")
	p.config.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("voiceagent_sessions_active 0\n"))
	})
	router := p.router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"disconnected"`)

	p.state.Store(int32(StateConnected))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voiceagent_sessions_active")
}

type fakeRoomService struct {
	participants []*livekit.ParticipantInfo
	removed      []string
}

func (f *fakeRoomService) ListParticipants(context.Context, *livekit.ListParticipantsRequest) (*livekit.ListParticipantsResponse, error) {
	return &livekit.ListParticipantsResponse{Participants: f.participants}, nil
}

func (f *fakeRoomService) RemoveParticipant(_ context.Context, req *livekit.RoomParticipantIdentity) (*livekit.RemoveParticipantResponse, error) {
	f.removed = append(f.removed, req.Identity)
	return &livekit.RemoveParticipantResponse{}, nil
}

func TestDisconnectRoomParticipantsSkipsAgents(t *testing.T) {
	p := newTestProvider(t, "http://localhost:7880")
	rooms := &fakeRoomService{participants: []*livekit.ParticipantInfo{
		{Identity: "agent-dr-aria-1", Kind: livekit.ParticipantInfo_AGENT},
		{Identity: "patient_42_17", Kind: livekit.ParticipantInfo_STANDARD},
	}}
	p.rooms = rooms

	p.disconnectRoomParticipants("healthos_doctor_1", core.NewLogger(nil))

	assert.Equal(t, []string{"patient_42_17"}, rooms.removed)
}

func TestNewProviderRequiresCredentials(t *testing.T) {
	_, err := NewProvider(Config{URL: "ws://localhost:7880"})
	assert.Error(t, err)
}
