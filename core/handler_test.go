package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	inits    atomic.Int32
	cleanups atomic.Int32
	initErr  error
}

func (s *fakeService) Initialize(context.Context) error {
	s.inits.Add(1)
	return s.initErr
}
func (s *fakeService) Cleanup() error { s.cleanups.Add(1); return nil }
func (s *fakeService) Reset() error   { return nil }

func newWiredHandler(t *testing.T, primary IService, backups ...IService) (*BaseHandler, chan *EventPacket, chan *EventPacket) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	next := make(chan *EventPacket, 10)
	top := make(chan *EventPacket, 10)
	h := NewBaseHandler("test", primary, backups, NewLogger(nil))
	require.NoError(t, h.Initialize(make(chan *EventPacket), next, top, ctx))
	return h, next, top
}

func TestBaseHandlerFailsOverToBackup(t *testing.T) {
	primary, backup := &fakeService{}, &fakeService{}
	h, _, top := newWiredHandler(t, primary, backup)

	h.HandleError(errors.New("socket closed"))

	select {
	case pkt := <-top:
		warn, ok := pkt.Event.(*WarningEvent)
		require.True(t, ok)
		assert.Equal(t, "socket closed", warn.Error)
	case <-time.After(time.Second):
		t.Fatal("no warning emitted")
	}
	assert.Same(t, backup, h.CurrentService())
	assert.EqualValues(t, 1, backup.inits.Load())
	assert.EqualValues(t, 1, primary.cleanups.Load())
}

func TestBaseHandlerEmitsCriticalWithoutBackup(t *testing.T) {
	h, _, top := newWiredHandler(t, &fakeService{})

	h.HandleError(errors.New("quota exceeded"))

	select {
	case pkt := <-top:
		crit, ok := pkt.Event.(*CriticalErrorEvent)
		require.True(t, ok)
		assert.Equal(t, "quota exceeded", crit.Error)
		assert.Equal(t, "test", pkt.Relayer)
	case <-time.After(time.Second):
		t.Fatal("no critical error emitted")
	}
}

func TestSendPacketRoutesByDestination(t *testing.T) {
	h, next, top := newWiredHandler(t, nil)

	h.Emit(&WarningEvent{}, EventRelayDestinationNextService)
	h.Emit(&EndCallEvent{Reason: "x"}, EventRelayDestinationTopService)

	assert.IsType(t, &WarningEvent{}, (<-next).Event)
	assert.IsType(t, &EndCallEvent{}, (<-top).Event)
}

func TestInitializeWrapsServiceError(t *testing.T) {
	h := NewBaseHandler("stt", &fakeService{initErr: errors.New("401")}, nil, NewLogger(nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := h.Initialize(make(chan *EventPacket), make(chan *EventPacket), make(chan *EventPacket), ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stt: initialize service")
}
