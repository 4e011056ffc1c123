package factories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent/consultation"
	"voiceagent/core"
	"voiceagent/events/stt"
	"voiceagent/events/vad"
	activitycontrol "voiceagent/handlers/activity_control"
	contexthandler "voiceagent/handlers/context"
	llmhandler "voiceagent/handlers/llm"
	"voiceagent/handlers/transport"
	ttshandler "voiceagent/handlers/tts"
	"voiceagent/runner"
)

// scriptedLLM streams one canned reply per call.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	seen    []core.LLMContext
}

func (l *scriptedLLM) Initialize(context.Context) error { return nil }
func (l *scriptedLLM) Cleanup() error                   { return nil }
func (l *scriptedLLM) Reset() error                     { return nil }

func (l *scriptedLLM) RunCompletion(ctx context.Context, llmCtx core.LLMContext, out chan<- string) error {
	l.mu.Lock()
	reply := l.replies[len(l.seen)%len(l.replies)]
	l.seen = append(l.seen, llmCtx.Clone())
	l.mu.Unlock()
	select {
	case out <- reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *scriptedLLM) requests() []core.LLMContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.LLMContext(nil), l.seen...)
}

// echoTTS answers every flush with one chunk of silence at the room rate.
type echoTTS struct {
	out chan<- core.SynthesisFrame
}

func (s *echoTTS) Initialize(context.Context) error { return nil }
func (s *echoTTS) Cleanup() error                   { return nil }
func (s *echoTTS) Reset() error                     { return nil }
func (s *echoTTS) BufferText(string) error          { return nil }
func (s *echoTTS) Clear() error                     { return nil }

func (s *echoTTS) StartTTSSession(out chan<- core.SynthesisFrame, _ chan<- error) error {
	s.out = out
	return nil
}

func (s *echoTTS) Flush() error {
	chunk := core.NewPCMChunk(make([]byte, 480), 24000, 1)
	go func() {
		s.out <- core.SynthesisFrame{Audio: &chunk}
		s.out <- core.SynthesisFrame{Flushed: true}
	}()
	return nil
}

// recordingRoom keeps the agent states and audio the output handler publishes.
type recordingRoom struct {
	stubRoom
	mu     sync.Mutex
	states []transport.AgentState
	audio  int
}

func (r *recordingRoom) SetAgentState(s transport.AgentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	return nil
}

func (r *recordingRoom) PublishAudio(c core.AudioChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio += len(c.Bytes())
	return nil
}

func (r *recordingRoom) snapshot() ([]transport.AgentState, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.AgentState(nil), r.states...), r.audio
}

func roles(c core.LLMContext) []core.LLMMessageRole {
	out := make([]core.LLMMessageRole, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, m.Role)
	}
	return out
}

func TestGreetingAndFirstTurnThroughHandlerChain(t *testing.T) {
	logger := core.NewLogger(nil)
	room := &recordingRoom{}
	model := &scriptedLLM{replies: []string{
		"Hello Ada, I am your cardiology assistant. What brings you in today?",
		"I am sorry to hear that. How long has the chest pain lasted?",
	}}
	cfg := transport.DefaultConfig()
	cfg.NoiseCancellation = false

	persona := consultation.SessionConfig{PatientName: "Ada", SpecialistType: "Cardiologist"}
	wrapper := transport.NewTransportHandlerWrapper(room, cfg, logger)
	session := &SessionHandlers{
		Context:  contexthandler.NewConsultationContext(persona, contexthandler.DefaultConfig(), logger),
		LLM:      llmhandler.NewLLMHandler(model, nil, llmhandler.DefaultConfig(), logger),
		TTS:      ttshandler.NewTTSHandler(&echoTTS{}, nil, ttshandler.DefaultConfig(), logger),
		Activity: activitycontrol.NewActivityControlHandler(activitycontrol.DefaultConfig(), logger),
		Output:   wrapper.GetOutputHandler(),
	}

	r := runner.NewRunner([]core.IHandler{
		session.Context.UserHandler(),
		session.LLM,
		session.Context.AssistantHandler(),
		session.TTS,
		session.Activity,
		session.Output,
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	require.NoError(t, session.Greet(ctx))

	// the greeting lands in history once its audio has played out
	require.Eventually(t, func() bool {
		return len(session.Context.Snapshot().Messages) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		states, _ := room.snapshot()
		return len(states) == 4
	}, 2*time.Second, 5*time.Millisecond)

	greeting := model.requests()[0]
	assert.Equal(t, []core.LLMMessageRole{core.LLMMessageRoleSystem, core.LLMMessageRoleSystem}, roles(greeting),
		"the greeting instruction rides on the request only")

	r.Inject(&vad.VadUserSpeechStartedEvent{}, "test")
	r.Inject(&stt.STTFinalOutputEvent{Text: "I have chest pain when I climb stairs"}, "test")
	r.Inject(&vad.VadUserSpeechEndedEvent{}, "test")

	require.Eventually(t, func() bool {
		return len(session.Context.Snapshot().Messages) == 4
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		states, _ := room.snapshot()
		return len(states) == 7
	}, 2*time.Second, 5*time.Millisecond)

	history := session.Context.Snapshot()
	assert.Equal(t, []core.LLMMessageRole{
		core.LLMMessageRoleSystem,
		core.LLMMessageRoleAssistant,
		core.LLMMessageRoleUser,
		core.LLMMessageRoleAssistant,
	}, roles(history))
	assert.Equal(t, model.replies[0], history.Messages[1].Message)
	assert.Equal(t, "I have chest pain when I climb stairs", history.Messages[2].Message)
	assert.Equal(t, model.replies[1], history.Messages[3].Message)
	for _, m := range history.Messages {
		assert.NotContains(t, m.Message, "Greet the patient warmly")
	}

	states, published := room.snapshot()
	assert.Equal(t, []transport.AgentState{
		transport.AgentStateListening,
		transport.AgentStateThinking,
		transport.AgentStateSpeaking,
		transport.AgentStateListening,
		transport.AgentStateThinking,
		transport.AgentStateSpeaking,
		transport.AgentStateListening,
	}, states)
	assert.Positive(t, published)
	assert.Zero(t, published%480, "audio at the room rate is published unchanged")
}
