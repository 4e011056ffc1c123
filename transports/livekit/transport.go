package livekit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	media "github.com/livekit/media-sdk"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/webrtc/v4"

	"voiceagent/core"
	"voiceagent/handlers/transport"
	"voiceagent/utils/audio"
)

const (
	attrAgentState = "lk.agent.state"
	attrAgentName  = "lk.agent.name"
	attrKind       = "lk.participant.kind"

	topicAgentState    = "agent_state"
	topicTranscription = "transcription"
)

var (
	ErrNotConnected = errors.New("livekit: transport not connected")
	ErrClosed       = errors.New("livekit: transport closed")
)

type RoomOptions struct {
	AgentName      string
	AudioTrackName string

	// Agent audio is published at this format.
	OutSampleRate int
	OutChannels   int

	// Remote audio is decoded to this format.
	InSampleRate int
	InChannels   int

	// ParticipantIdentity pins the transport to one remote participant.
	// Empty links the first non-agent participant.
	ParticipantIdentity string
}

func DefaultRoomOptions() RoomOptions {
	return RoomOptions{
		AgentName:      "dr-aria",
		AudioTrackName: "agent-voice",
		OutSampleRate:  24000,
		OutChannels:    1,
		InSampleRate:   16000,
		InChannels:     1,
	}
}

// LiveKitTransport is one agent connection to a LiveKit room. It decodes the
// linked participant's microphone to PCM and publishes agent audio as a PCM
// track.
type LiveKitTransport struct {
	url      string
	token    string
	roomName string
	opts     RoomOptions
	logger   *core.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	room         *lksdk.Room
	audioTrack   *lkmedia.PCMLocalTrack
	remoteTracks map[string]*lkmedia.PCMRemoteTrack
	linked       string
	closed       bool
	audioOut     chan<- core.AudioChunk

	events    chan transport.RoomEvent
	state     *agentStateMachine
	closeOnce sync.Once
}

func NewLiveKitTransport(url, token, roomName string, opts RoomOptions, logger *core.Logger) *LiveKitTransport {
	if logger == nil {
		logger = core.GetLogger()
	}
	d := DefaultRoomOptions()
	if opts.AudioTrackName == "" {
		opts.AudioTrackName = d.AudioTrackName
	}
	if opts.OutSampleRate <= 0 {
		opts.OutSampleRate = d.OutSampleRate
	}
	if opts.OutChannels <= 0 {
		opts.OutChannels = d.OutChannels
	}
	if opts.InSampleRate <= 0 {
		opts.InSampleRate = d.InSampleRate
	}
	if opts.InChannels <= 0 {
		opts.InChannels = d.InChannels
	}
	l := &LiveKitTransport{
		url:          url,
		token:        token,
		roomName:     roomName,
		opts:         opts,
		logger:       logger.With(map[string]any{"room": roomName}),
		remoteTracks: make(map[string]*lkmedia.PCMRemoteTrack),
		linked:       opts.ParticipantIdentity,
		events:       make(chan transport.RoomEvent, 8),
	}
	l.state = newAgentStateMachine(l.publishAgentState, l.logger)
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l
}

// Connect joins the room with the job token and publishes the agent track.
func (l *LiveKitTransport) Connect(ctx context.Context) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if l.token == "" {
		return errors.New("livekit: token cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.logger.Info("connecting to room", "url", l.url)
	room, err := lksdk.ConnectToRoomWithToken(l.url, l.token, l.roomCallback(), lksdk.WithAutoSubscribe(true))
	if err != nil {
		return fmt.Errorf("livekit: connect to %s: %w", l.roomName, err)
	}

	l.mu.Lock()
	l.room = room
	l.mu.Unlock()

	room.LocalParticipant.SetAttributes(map[string]string{
		attrAgentState: string(transport.AgentStateInitializing),
		attrAgentName:  l.opts.AgentName,
	})

	track, err := lkmedia.NewPCMLocalTrack(l.opts.OutSampleRate, l.opts.OutChannels, nil)
	if err != nil {
		room.Disconnect()
		return fmt.Errorf("livekit: create audio track: %w", err)
	}
	pub, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   l.opts.AudioTrackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		track.Close()
		room.Disconnect()
		return fmt.Errorf("livekit: publish audio track: %w", err)
	}
	l.mu.Lock()
	l.audioTrack = track
	l.mu.Unlock()

	for _, rp := range room.GetRemoteParticipants() {
		l.participantConnected(rp)
	}

	l.logger.Info("connected to room",
		"identity", room.LocalParticipant.Identity(),
		"trackSID", pub.SID(),
		"participants", len(room.GetRemoteParticipants()),
	)
	return nil
}

// Metadata returns the room metadata set by the dispatcher.
func (l *LiveKitTransport) Metadata() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.room == nil {
		return ""
	}
	return l.room.Metadata()
}

func (l *LiveKitTransport) Initialize(ctx context.Context) error {
	// Event delivery is bound to the pipeline context from here on.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.cancel()
	l.ctx, l.cancel = context.WithCancel(ctx)
	return nil
}

func (l *LiveKitTransport) roomCallback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   l.trackSubscribed,
			OnTrackUnsubscribed: l.trackUnsubscribed,
		},
		OnParticipantConnected:    l.participantConnected,
		OnParticipantDisconnected: l.participantDisconnected,
		OnReconnecting: func() {
			l.logger.Info("reconnecting to room")
		},
		OnReconnected: func() {
			l.logger.Info("reconnected to room")
		},
		OnDisconnected: func() {
			l.mu.RLock()
			closed := l.closed
			l.mu.RUnlock()
			if closed {
				return
			}
			l.logger.Info("disconnected from room")
			l.notify(transport.RoomEvent{Kind: transport.RoomClosed})
		},
	}
}

// isAgent reports whether rp is another agent worker.
func isAgent(rp *lksdk.RemoteParticipant) bool {
	return rp.Attributes()[attrKind] == "agent" || rp.Attributes()[attrAgentState] != ""
}

func (l *LiveKitTransport) participantConnected(rp *lksdk.RemoteParticipant) {
	if isAgent(rp) {
		return
	}
	identity := rp.Identity()

	l.mu.Lock()
	if linked := l.linked; linked != "" && linked != identity {
		l.mu.Unlock()
		l.logger.Debug("ignoring participant", "identity", identity, "linked", linked)
		return
	}
	l.linked = identity
	l.mu.Unlock()

	l.notify(transport.RoomEvent{Kind: transport.ParticipantJoined, Identity: identity})
}

func (l *LiveKitTransport) participantDisconnected(rp *lksdk.RemoteParticipant) {
	identity := rp.Identity()

	l.mu.Lock()
	if l.linked != identity {
		l.mu.Unlock()
		return
	}
	remotes := l.remoteTracks
	l.remoteTracks = make(map[string]*lkmedia.PCMRemoteTrack)
	l.mu.Unlock()

	for _, remote := range remotes {
		remote.Close()
	}
	l.notify(transport.RoomEvent{Kind: transport.ParticipantLeft, Identity: identity})
}

func (l *LiveKitTransport) trackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio || pub.Source() != livekit.TrackSource_MICROPHONE {
		return
	}
	l.mu.RLock()
	linked := l.linked
	l.mu.RUnlock()
	if linked != "" && rp.Identity() != linked {
		return
	}

	sink := &pcmSink{transport: l, sampleRate: l.opts.InSampleRate, channels: l.opts.InChannels}
	remote, err := lkmedia.NewPCMRemoteTrack(track, sink,
		lkmedia.WithTargetSampleRate(l.opts.InSampleRate),
		lkmedia.WithTargetChannels(l.opts.InChannels),
	)
	if err != nil {
		l.logger.Error("failed to decode remote track", "trackSID", pub.SID(), "error", err)
		return
	}

	l.mu.Lock()
	l.remoteTracks[pub.SID()] = remote
	l.mu.Unlock()

	l.logger.Info("subscribed to microphone",
		"participant", rp.Identity(),
		"trackSID", pub.SID(),
		"codec", track.Codec().MimeType,
	)
}

func (l *LiveKitTransport) trackUnsubscribed(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	l.mu.Lock()
	remote, ok := l.remoteTracks[pub.SID()]
	delete(l.remoteTracks, pub.SID())
	l.mu.Unlock()
	if ok {
		remote.Close()
		l.logger.Info("track unsubscribed", "participant", rp.Identity(), "trackSID", pub.SID())
	}
}

func (l *LiveKitTransport) notify(event transport.RoomEvent) {
	select {
	case l.events <- event:
	default:
		l.logger.Warn("room event dropped", "kind", int(event.Kind), "identity", event.Identity)
	}
}

func (l *LiveKitTransport) deliverAudio(chunk core.AudioChunk) {
	l.mu.RLock()
	out := l.audioOut
	ctx := l.ctx
	l.mu.RUnlock()
	if out == nil {
		return
	}
	select {
	case out <- chunk:
	case <-ctx.Done():
	default:
		l.logger.Debug("input audio dropped, pipeline busy")
	}
}

// StartReceiving routes decoded audio and room events to the pipeline.
// Events raised before this call are delivered in order.
func (l *LiveKitTransport) StartReceiving(audioOut chan<- core.AudioChunk, events chan<- transport.RoomEvent, _ chan<- error) {
	l.mu.Lock()
	l.audioOut = audioOut
	ctx := l.ctx
	l.mu.Unlock()

	go func() {
		for {
			select {
			case event := <-l.events:
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (l *LiveKitTransport) PublishAudio(chunk core.AudioChunk) error {
	l.mu.RLock()
	track := l.audioTrack
	l.mu.RUnlock()
	if track == nil {
		return ErrNotConnected
	}
	samples := media.PCM16Sample(audio.BytesToInt16(chunk.Bytes()))
	if len(samples) == 0 {
		return nil
	}
	if err := track.WriteSample(samples); err != nil {
		return fmt.Errorf("livekit: write audio sample: %w", err)
	}
	return nil
}

// ClearAudio drops agent audio queued but not yet sent.
func (l *LiveKitTransport) ClearAudio() {
	l.mu.RLock()
	track := l.audioTrack
	l.mu.RUnlock()
	if track != nil {
		track.ClearQueue()
	}
}

func (l *LiveKitTransport) SetAgentState(state transport.AgentState) error {
	l.mu.RLock()
	ctx := l.ctx
	l.mu.RUnlock()
	return l.state.Set(ctx, state)
}

func (l *LiveKitTransport) publishAgentState(state string) error {
	participant, err := l.localParticipant()
	if err != nil {
		return err
	}
	participant.SetAttributes(map[string]string{attrAgentState: state})
	payload, err := sonic.Marshal(map[string]string{"type": topicAgentState, "state": state})
	if err != nil {
		return err
	}
	return participant.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishReliable(true),
		lksdk.WithDataPublishTopic(topicAgentState),
	)
}

type transcriptionMessage struct {
	Type string `json:"type"`
	transport.Transcription
}

func (l *LiveKitTransport) PublishTranscription(t transport.Transcription) error {
	participant, err := l.localParticipant()
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(transcriptionMessage{Type: topicTranscription, Transcription: t})
	if err != nil {
		return fmt.Errorf("livekit: encode transcription: %w", err)
	}
	return participant.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishReliable(true),
		lksdk.WithDataPublishTopic(topicTranscription),
	)
}

func (l *LiveKitTransport) localParticipant() (*lksdk.LocalParticipant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.room == nil || l.room.LocalParticipant == nil {
		return nil, ErrNotConnected
	}
	return l.room.LocalParticipant, nil
}

func (l *LiveKitTransport) Reset() error {
	l.ClearAudio()
	return nil
}

// Cleanup stops track readers, unpublishes agent audio and leaves the room.
func (l *LiveKitTransport) Cleanup() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.cancel()
		remotes := l.remoteTracks
		l.remoteTracks = make(map[string]*lkmedia.PCMRemoteTrack)
		track := l.audioTrack
		l.audioTrack = nil
		room := l.room
		l.audioOut = nil
		l.mu.Unlock()

		for _, remote := range remotes {
			remote.Close()
		}
		// Close the track before disconnecting so it unpublishes cleanly.
		if track != nil {
			track.Close()
		}
		if room != nil {
			room.Disconnect()
		}
		l.logger.Info("left room")
	})
	return nil
}

// pcmSink receives decoded remote audio.
type pcmSink struct {
	transport  *LiveKitTransport
	sampleRate int
	channels   int
}

func (s *pcmSink) String() string  { return "voiceagent-pcm-sink" }
func (s *pcmSink) SampleRate() int { return s.sampleRate }
func (s *pcmSink) Close() error    { return nil }

func (s *pcmSink) WriteSample(sample media.PCM16Sample) error {
	if len(sample) == 0 {
		return nil
	}
	s.transport.deliverAudio(core.NewPCMChunk(audio.Int16ToBytes(sample), s.sampleRate, s.channels))
	return nil
}
