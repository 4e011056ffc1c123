package livekit

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"voiceagent/core"
	"voiceagent/handlers/transport"
)

const (
	eventListen = "listen"
	eventThink  = "think"
	eventSpeak  = "speak"
)

// agentStateMachine guards the lk.agent.state attribute. Every accepted
// transition is published through publish.
type agentStateMachine struct {
	fsm     *fsm.FSM
	publish func(state string) error
	logger  *core.Logger
}

func newAgentStateMachine(publish func(state string) error, logger *core.Logger) *agentStateMachine {
	m := &agentStateMachine{publish: publish, logger: logger}
	initializing := string(transport.AgentStateInitializing)
	listening := string(transport.AgentStateListening)
	thinking := string(transport.AgentStateThinking)
	speaking := string(transport.AgentStateSpeaking)

	m.fsm = fsm.NewFSM(
		initializing,
		fsm.Events{
			{Name: eventListen, Src: []string{initializing, thinking, speaking}, Dst: listening},
			{Name: eventThink, Src: []string{listening, speaking}, Dst: thinking},
			{Name: eventSpeak, Src: []string{initializing, listening, thinking}, Dst: speaking},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if err := m.publish(e.Dst); err != nil {
					m.logger.Warn("agent state not published", "state", e.Dst, "error", err)
				}
			},
		},
	)
	return m
}

func (m *agentStateMachine) Current() transport.AgentState {
	return transport.AgentState(m.fsm.Current())
}

// Set moves to state. Setting the current state is a no-op.
func (m *agentStateMachine) Set(ctx context.Context, state transport.AgentState) error {
	if m.Current() == state {
		return nil
	}
	var event string
	switch state {
	case transport.AgentStateListening:
		event = eventListen
	case transport.AgentStateThinking:
		event = eventThink
	case transport.AgentStateSpeaking:
		event = eventSpeak
	default:
		return fmt.Errorf("agent state %q cannot be entered", state)
	}
	if !m.fsm.Can(event) {
		return fmt.Errorf("agent state %s -> %s not allowed", m.Current(), state)
	}
	return m.fsm.Event(ctx, event)
}
