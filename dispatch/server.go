// Package dispatch serves the endpoint a patient's browser calls to start a
// voice consultation. It creates the LiveKit room with the triage metadata,
// requests an agent for it and returns a participant token.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"voiceagent/consultation"
	"voiceagent/core"
)

const (
	DefaultSpecialistType = "AI General Practitioner"
	DefaultTokenTTL       = 15 * time.Minute

	roomPrefix      = "healthos_doctor_"
	emptyTimeout    = 5 * 60
	maxParticipants = 2
	createTimeout   = 10 * time.Second
	maxBodyBytes    = 64 << 10

	notConfiguredMessage = "Voice service not configured. Add LIVEKIT_URL, LIVEKIT_API_KEY, and LIVEKIT_API_SECRET to .env.local"
)

type Config struct {
	URL       string
	APIKey    string
	APISecret string
	// AgentName is dispatched into every new room. Empty requests the
	// default agent.
	AgentName string
	TokenTTL  time.Duration
}

func (c Config) Configured() bool {
	return c.URL != "" && c.APIKey != "" && c.APISecret != ""
}

// RoomCreator is the part of the LiveKit room API the endpoint needs.
type RoomCreator interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
}

type Server struct {
	config Config
	rooms  RoomCreator
	logger *core.Logger

	now  func() time.Time
	intn func(n int) int
}

// NewServer builds the dispatch server. A nil rooms uses the LiveKit room
// service client when the config is complete.
func NewServer(config Config, rooms RoomCreator, logger *core.Logger) *Server {
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	if rooms == nil && config.Configured() {
		rooms = lksdk.NewRoomServiceClient(config.URL, config.APIKey, config.APISecret)
	}
	return &Server{
		config: config,
		rooms:  rooms,
		logger: logger.With(map[string]any{"component": "dispatch"}),
		now:    time.Now,
		intn:   rand.IntN,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Post("/api/ai-doctor/voice", s.handleVoice)
	return r
}

type errorResponse struct {
	Error      string `json:"error"`
	Configured *bool  `json:"configured,omitempty"`
}

type voiceResponse struct {
	ServerURL        string `json:"serverUrl"`
	RoomName         string `json:"roomName"`
	ParticipantToken string `json:"participantToken"`
	ParticipantName  string `json:"participantName"`
	Configured       bool   `json:"configured"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "configured": s.config.Configured()})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if !s.config.Configured() {
		configured := false
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: notConfiguredMessage, Configured: &configured})
		return
	}

	meta := readRequest(r.Body)
	roomName := roomPrefix + strconv.FormatInt(s.now().UnixMilli(), 10)
	identity := fmt.Sprintf("patient_%s_%d", meta.PatientID, s.intn(10000))
	logger := s.logger.With(map[string]any{"room": roomName, "identity": identity})

	s.createRoom(r.Context(), roomName, meta, logger)

	token, err := s.participantToken(roomName, identity, meta.PatientName)
	if err != nil {
		logger.Error("participant token", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	logger.Info("voice session dispatched", "specialist", meta.SpecialistType)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, voiceResponse{
		ServerURL:        s.config.URL,
		RoomName:         roomName,
		ParticipantToken: token,
		ParticipantName:  meta.PatientName,
		Configured:       true,
	})
}

// createRoom creates the room with the triage metadata and an agent
// dispatch. Failures are logged and do not fail the request.
func (s *Server) createRoom(ctx context.Context, roomName string, meta consultation.Metadata, logger *core.Logger) {
	if s.rooms == nil {
		return
	}
	metadata, err := sonic.MarshalString(meta)
	if err != nil {
		logger.Warn("room metadata encode", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()
	_, err = s.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            roomName,
		EmptyTimeout:    emptyTimeout,
		MaxParticipants: maxParticipants,
		Metadata:        metadata,
		Agents:          []*livekit.RoomAgentDispatch{{AgentName: s.config.AgentName}},
	})
	if err != nil {
		logger.Warn("room creation failed", "error", err)
	}
}

func (s *Server) participantToken(roomName, identity, name string) (string, error) {
	grant := &auth.VideoGrant{RoomJoin: true, Room: roomName}
	grant.SetCanPublish(true)
	grant.SetCanPublishData(true)
	grant.SetCanSubscribe(true)
	return auth.NewAccessToken(s.config.APIKey, s.config.APISecret).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(s.config.TokenTTL).
		SetVideoGrant(grant).
		ToJWT()
}

// readRequest decodes the request body. Unreadable bodies and empty or
// missing fields fall back to the defaults.
func readRequest(body io.Reader) consultation.Metadata {
	meta := consultation.Metadata{
		PatientName:    consultation.DefaultPatientName,
		PatientID:      consultation.DefaultPatientID,
		SpecialistType: DefaultSpecialistType,
	}
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return meta
	}
	var fields map[string]any
	if err := sonic.Unmarshal(data, &fields); err != nil || fields == nil {
		return meta
	}
	if v := stringValue(fields["patientName"]); v != "" {
		meta.PatientName = v
	}
	if v := stringValue(fields["patientId"]); v != "" {
		meta.PatientID = v
	}
	if v := stringValue(fields["specialistType"]); v != "" {
		meta.SpecialistType = v
	}
	meta.SystemPrompt = stringValue(fields["systemPrompt"])
	return meta
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == 0 {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
