package livekit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent/core"
	"voiceagent/handlers/transport"
)

func TestAgentStateMachinePublishesTransitions(t *testing.T) {
	var published []string
	m := newAgentStateMachine(func(state string) error {
		published = append(published, state)
		return nil
	}, core.NewLogger(nil))
	ctx := context.Background()

	assert.Equal(t, transport.AgentStateInitializing, m.Current())
	require.NoError(t, m.Set(ctx, transport.AgentStateListening))
	require.NoError(t, m.Set(ctx, transport.AgentStateListening))
	require.NoError(t, m.Set(ctx, transport.AgentStateThinking))
	require.NoError(t, m.Set(ctx, transport.AgentStateSpeaking))
	require.NoError(t, m.Set(ctx, transport.AgentStateListening))

	assert.Equal(t, []string{"listening", "thinking", "speaking", "listening"}, published)
	assert.Equal(t, transport.AgentStateListening, m.Current())
}

func TestAgentStateMachineRejectsUnknownTransitions(t *testing.T) {
	m := newAgentStateMachine(func(string) error { return nil }, core.NewLogger(nil))
	ctx := context.Background()

	assert.Error(t, m.Set(ctx, transport.AgentStateThinking))
	assert.Error(t, m.Set(ctx, transport.AgentStateInitializing))
	assert.Equal(t, transport.AgentStateInitializing, m.Current())
}

func TestAgentStateMachineKeepsStateWhenPublishFails(t *testing.T) {
	m := newAgentStateMachine(func(string) error { return errors.New("not connected") }, core.NewLogger(nil))

	require.NoError(t, m.Set(context.Background(), transport.AgentStateSpeaking))
	assert.Equal(t, transport.AgentStateSpeaking, m.Current())
}
