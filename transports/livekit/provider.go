package livekit

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"google.golang.org/protobuf/proto"

	"voiceagent/core"
	"voiceagent/handlers/transport"
)

const (
	DefaultDrainTimeout    = 30 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
	InitialReconnectDelay  = 1 * time.Second
	MaxReconnectDelay      = 30 * time.Second

	statusInterval = 2 * time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return "disconnected"
	}
}

type Config struct {
	URL          string        `mapstructure:"url"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	AgentName    string        `mapstructure:"agent_name"`
	Version      string        `mapstructure:"version"`
	MaxJobs      uint32        `mapstructure:"max_jobs"`
	DevMode      bool          `mapstructure:"dev_mode"`
	HTTPPort     int           `mapstructure:"http_port"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	LogDir       string        `mapstructure:"log_dir"`

	Room    RoomOptions  `mapstructure:"-"`
	Logger  *core.Logger `mapstructure:"-"`
	Metrics http.Handler `mapstructure:"-"` // served at /metrics when set
}

func DefaultConfig() Config {
	return Config{
		Version:      "1.0.0",
		MaxJobs:      1,
		HTTPPort:     9999,
		DrainTimeout: DefaultDrainTimeout,
		LogDir:       "logs",
		Room:         DefaultRoomOptions(),
		Logger:       core.GetLogger(),
	}
}

// roomService is the part of the LiveKit room API used after a job ends.
type roomService interface {
	ListParticipants(ctx context.Context, req *livekit.ListParticipantsRequest) (*livekit.ListParticipantsResponse, error)
	RemoveParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.RemoveParticipantResponse, error)
}

// Provider is a LiveKit agent worker. It registers over the /agent websocket,
// accepts room jobs and runs each on its own transport.
type Provider struct {
	config Config
	logger *core.Logger

	state    atomic.Int32
	conn     *websocket.Conn
	connMu   sync.Mutex
	workerID atomic.Value
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
	attempts atomic.Int32

	jobs       sync.Map // job id -> *activeJob
	jobHandler transport.JobHandler
	rooms      roomService

	httpServer   *http.Server
	httpListener net.Listener
}

type activeJob struct {
	job       *livekit.Job
	token     string
	startedAt time.Time
	cancel    context.CancelFunc
}

func NewProvider(cfg Config) (*Provider, error) {
	if cfg.URL == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("livekit: URL, APIKey and APISecret are required")
	}
	d := DefaultConfig()
	if cfg.MaxJobs == 0 {
		cfg.MaxJobs = d.MaxJobs
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = d.DrainTimeout
	}
	if cfg.LogDir == "" {
		cfg.LogDir = d.LogDir
	}
	if cfg.Version == "" {
		cfg.Version = d.Version
	}
	if cfg.DevMode {
		cfg.MaxJobs = 100
		cfg.HTTPPort = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = core.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		config: cfg,
		logger: cfg.Logger.With(map[string]any{"agent": cfg.AgentName}),
		ctx:    ctx,
		cancel: cancel,
		rooms:  lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
	}
	p.state.Store(int32(StateDisconnected))
	p.workerID.Store("")
	return p, nil
}

func (p *Provider) RegisterJobHandler(handler transport.JobHandler) error {
	if handler == nil {
		return errors.New("livekit: job handler cannot be nil")
	}
	p.jobHandler = handler
	return nil
}

func (p *Provider) State() State { return State(p.state.Load()) }

func (p *Provider) WorkerID() string { return p.workerID.Load().(string) }

func (p *Provider) Start() error {
	p.logger.Info("starting worker", "url", p.config.URL, "maxJobs", p.config.MaxJobs)
	if err := p.startHTTPServer(); err != nil {
		return err
	}
	p.wg.Add(2)
	go p.statusLoop()
	go func() {
		defer p.wg.Done()
		p.connect()
	}()
	return nil
}

// Stop drains the worker. Running jobs get DrainTimeout to finish before
// they are cancelled.
func (p *Provider) Stop() error {
	p.stopOnce.Do(func() {
		p.logger.Info("draining worker", "jobs", p.activeJobCount())
		p.state.Store(int32(StateDraining))
		p.sendStatus()

		deadline := time.Now().Add(p.config.DrainTimeout)
		for p.activeJobCount() > 0 && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}

		p.cancel()
		p.jobs.Range(func(_, v any) bool {
			v.(*activeJob).cancel()
			return true
		})
		p.closeConnection()

		if p.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
			defer cancel()
			if err := p.httpServer.Shutdown(ctx); err != nil {
				p.logger.Warn("http shutdown", "error", err)
			}
		}
		p.wg.Wait()
		p.logger.Info("worker stopped")
	})
	return nil
}

func (p *Provider) closeConnection() {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *Provider) workerURL() (string, error) {
	u, err := url.Parse(p.config.URL)
	if err != nil {
		return "", fmt.Errorf("livekit: parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/agent"
	return u.String(), nil
}

func (p *Provider) workerToken() (string, error) {
	identity := p.config.AgentName
	if identity == "" {
		identity = "voiceagent-worker"
	}
	return auth.NewAccessToken(p.config.APIKey, p.config.APISecret).
		SetIdentity(identity).
		SetValidFor(24 * time.Hour).
		SetVideoGrant(&auth.VideoGrant{Agent: true}).
		ToJWT()
}

func (p *Provider) connect() {
	if p.ctx.Err() != nil {
		return
	}
	p.closeConnection()
	p.state.Store(int32(StateConnecting))

	target, err := p.workerURL()
	if err != nil {
		p.logger.Error("invalid worker url", "error", err)
		return
	}
	token, err := p.workerToken()
	if err != nil {
		p.logger.Error("failed to create worker token", "error", err)
		p.scheduleReconnect()
		return
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(p.ctx, target, headers)
	if err != nil {
		p.logger.Warn("worker connect failed", "error", err)
		p.scheduleReconnect()
		return
	}
	p.connMu.Lock()
	p.conn = conn
	p.connMu.Unlock()

	register := &livekit.WorkerMessage{Message: &livekit.WorkerMessage_Register{
		Register: &livekit.RegisterWorkerRequest{
			Type:      livekit.JobType_JT_ROOM,
			AgentName: p.config.AgentName,
			Version:   p.config.Version,
			AllowedPermissions: &livekit.ParticipantPermission{
				CanPublish:     true,
				CanSubscribe:   true,
				CanPublishData: true,
				Agent:          true,
			},
		},
	}}
	if err := p.send(register); err != nil {
		p.logger.Warn("worker register failed", "error", err)
		p.closeConnection()
		p.scheduleReconnect()
		return
	}

	p.state.Store(int32(StateConnected))
	p.wg.Add(1)
	go p.readLoop(conn)
}

// scheduleReconnect retries with exponential backoff capped at
// MaxReconnectDelay.
func (p *Provider) scheduleReconnect() {
	if p.ctx.Err() != nil || p.State() == StateDraining {
		return
	}
	p.state.Store(int32(StateDisconnected))
	attempt := int(p.attempts.Add(1))
	delay := backoff(attempt - 1)
	p.logger.Info("reconnecting worker", "in", delay.String(), "attempt", attempt)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-p.ctx.Done():
		case <-time.After(delay):
			p.connect()
		}
	}()
}

func backoff(attempt int) time.Duration {
	delay := InitialReconnectDelay
	for i := 0; i < attempt && delay < MaxReconnectDelay; i++ {
		delay *= 2
	}
	if delay > MaxReconnectDelay {
		delay = MaxReconnectDelay
	}
	return delay
}

func (p *Provider) send(msg *livekit.WorkerMessage) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn == nil {
		return errors.New("livekit: worker not connected")
	}
	return p.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (p *Provider) readLoop(conn *websocket.Conn) {
	defer p.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if p.ctx.Err() == nil && p.State() != StateDraining {
				p.logger.Warn("worker connection lost", "error", err)
				p.scheduleReconnect()
			}
			return
		}

		var msg livekit.ServerMessage
		if err := proto.Unmarshal(data, &msg); err != nil {
			p.logger.Warn("bad server message", "error", err)
			continue
		}

		switch m := msg.Message.(type) {
		case *livekit.ServerMessage_Register:
			p.workerID.Store(m.Register.WorkerId)
			p.attempts.Store(0)
			p.logger.Info("worker registered", "workerID", m.Register.WorkerId)
		case *livekit.ServerMessage_Availability:
			p.answerAvailability(m.Availability.Job)
		case *livekit.ServerMessage_Assignment:
			p.handleAssignment(m.Assignment)
		case *livekit.ServerMessage_Termination:
			if v, ok := p.jobs.Load(m.Termination.JobId); ok {
				p.logger.Info("job terminated by server", "job", m.Termination.JobId)
				v.(*activeJob).cancel()
			}
		}
	}
}

func (p *Provider) activeJobCount() int {
	count := 0
	p.jobs.Range(func(_, _ any) bool { count++; return true })
	return count
}

func (p *Provider) hasRoom(name string) bool {
	found := false
	p.jobs.Range(func(_, v any) bool {
		if v.(*activeJob).job.GetRoom().GetName() == name {
			found = true
			return false
		}
		return true
	})
	return found
}

func (p *Provider) answerAvailability(job *livekit.Job) {
	if job == nil {
		return
	}
	available := p.State() == StateConnected &&
		uint32(p.activeJobCount()) < p.config.MaxJobs &&
		!p.hasRoom(job.GetRoom().GetName())

	label := p.config.AgentName
	if label == "" {
		label = "agent"
	}
	suffix := job.Id
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}

	err := p.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Availability{
		Availability: &livekit.AvailabilityResponse{
			JobId:               job.Id,
			Available:           available,
			ParticipantIdentity: fmt.Sprintf("agent-%s-%s-%x", label, suffix, randBytes(4)),
			ParticipantName:     label,
		},
	}})
	if err != nil {
		p.logger.Warn("availability answer failed", "job", job.Id, "error", err)
		return
	}
	p.logger.Info("job offered", "job", job.Id, "room", job.GetRoom().GetName(), "available", available)
}

func (p *Provider) handleAssignment(assign *livekit.JobAssignment) {
	job := assign.GetJob()
	if job == nil || assign.Token == "" {
		return
	}
	ctx, cancel := context.WithCancel(p.ctx)
	active := &activeJob{job: job, token: assign.Token, startedAt: time.Now(), cancel: cancel}
	p.jobs.Store(job.Id, active)

	p.wg.Add(1)
	go p.runJob(ctx, active)
}

func (p *Provider) runJob(ctx context.Context, active *activeJob) {
	defer p.wg.Done()
	defer active.cancel()
	defer p.jobs.Delete(active.job.Id)

	job := active.job
	roomName := job.GetRoom().GetName()

	sessionLogger := p.logger
	if writer, err := core.NewSessionLogWriter(p.config.LogDir, job.Id, roomName); err != nil {
		p.logger.Warn("session log unavailable", "job", job.Id, "error", err)
	} else {
		defer writer.Close()
		sessionLogger = core.NewSessionLogger(p.logger, writer)
	}
	logger := sessionLogger.With(map[string]any{"job": job.Id, "room": roomName})
	ctx = core.ContextWithSessionLogger(ctx, logger)

	status, errMsg := livekit.JobStatus_JS_SUCCESS, ""
	defer func() {
		p.updateJobStatus(job.Id, status, errMsg)
		logger.Info("job finished", "status", status.String(), "duration", time.Since(active.startedAt).String())
		p.disconnectRoomParticipants(roomName, logger)
	}()

	if p.jobHandler == nil {
		status, errMsg = livekit.JobStatus_JS_FAILED, "no job handler"
		return
	}

	opts := p.config.Room
	if job.Participant != nil {
		opts.ParticipantIdentity = job.Participant.Identity
	}
	room := NewLiveKitTransport(p.config.URL, active.token, roomName, opts, logger)
	defer room.Cleanup()

	if err := room.Connect(ctx); err != nil {
		status, errMsg = livekit.JobStatus_JS_FAILED, err.Error()
		logger.Error("room connect failed", "error", err)
		return
	}
	p.updateJobStatus(job.Id, livekit.JobStatus_JS_RUNNING, "")

	metadata := room.Metadata()
	if metadata == "" {
		metadata = job.GetRoom().GetMetadata()
	}
	err := p.jobHandler(ctx, transport.Job{
		ID:        job.Id,
		RoomName:  roomName,
		Metadata:  metadata,
		Transport: room,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		status, errMsg = livekit.JobStatus_JS_FAILED, err.Error()
		logger.Error("job failed", "error", err)
	}
}

// disconnectRoomParticipants removes the remaining humans so the patient's
// client sees the consultation end with the agent.
func (p *Provider) disconnectRoomParticipants(roomName string, logger *core.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := p.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: roomName})
	if err != nil {
		logger.Warn("list participants failed", "error", err)
		return
	}
	for _, participant := range resp.GetParticipants() {
		if participant.Kind == livekit.ParticipantInfo_AGENT {
			continue
		}
		if _, err := p.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
			Room:     roomName,
			Identity: participant.Identity,
		}); err != nil {
			logger.Warn("remove participant failed", "participant", participant.Identity, "error", err)
			continue
		}
		logger.Info("participant removed", "participant", participant.Identity)
	}
}

func (p *Provider) updateJobStatus(jobID string, status livekit.JobStatus, errMsg string) {
	err := p.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateJob{
		UpdateJob: &livekit.UpdateJobStatus{JobId: jobID, Status: status, Error: errMsg},
	}})
	if err != nil {
		p.logger.Debug("job status not sent", "job", jobID, "error", err)
	}
}

func (p *Provider) sendStatus() {
	count := p.activeJobCount()
	status := livekit.WorkerStatus_WS_AVAILABLE
	if p.State() == StateDraining || uint32(count) >= p.config.MaxJobs {
		status = livekit.WorkerStatus_WS_FULL
	}
	err := p.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateWorker{
		UpdateWorker: &livekit.UpdateWorkerStatus{
			Status:   status.Enum(),
			Load:     float32(count) / float32(p.config.MaxJobs),
			JobCount: uint32(count),
		},
	}})
	if err != nil {
		p.logger.Debug("worker status not sent", "error", err)
	}
}

func (p *Provider) statusLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if p.State() == StateConnected {
				p.sendStatus()
			}
		}
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	State    string `json:"state"`
	WorkerID string `json:"worker_id,omitempty"`
	Jobs     int    `json:"jobs"`
}

func (p *Provider) router() http.Handler {
	r := chi.NewRouter()
	health := func(w http.ResponseWriter, _ *http.Request) {
		state := p.State()
		resp := healthResponse{Status: "ok", State: state.String(), WorkerID: p.WorkerID(), Jobs: p.activeJobCount()}
		code := http.StatusOK
		if state != StateConnected && state != StateDraining {
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
		body, _ := sonic.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		w.Write(body)
	}
	r.Get("/", health)
	r.Get("/healthz", health)
	if p.config.Metrics != nil {
		r.Handle("/metrics", p.config.Metrics)
	}
	return r
}

func (p *Provider) startHTTPServer() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", p.config.HTTPPort))
	if err != nil {
		return fmt.Errorf("livekit: http listener: %w", err)
	}
	p.httpListener = ln
	p.httpServer = &http.Server{Handler: p.router(), ReadHeaderTimeout: 5 * time.Second}
	p.logger.Info("health server listening", "addr", ln.Addr().String())

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("health server stopped", "error", err)
		}
	}()
	return nil
}

func randBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}
