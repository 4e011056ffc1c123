package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoBackupService is returned when a fatal service error leaves no
// backup service to fail over to.
var ErrNoBackupService = errors.New("no backup services available")

// IService is implemented by every provider client a handler drives.
type IService interface {
	Initialize(ctx context.Context) error
	Cleanup() error
	Reset() error
}

type IHandler interface {
	Initialize(
		inputChan <-chan *EventPacket,
		outputNextChan chan<- *EventPacket,
		outputTopChan chan<- *EventPacket,
		ctx context.Context,
	) error
	Start() error // Launches the handler loops and returns.
	HandleEvent(packet *EventPacket) error

	Cleanup() error
	Reset() error
}

// BaseHandler carries the channel wiring and service failover shared by every
// pipeline handler. Handlers embed it and implement Start and HandleEvent.
type BaseHandler struct {
	Service               IService
	BackupServices        []IService
	Ctx                   context.Context
	InputChan             <-chan *EventPacket
	FatalServiceErrorChan chan error
	Logger                *Logger

	// OnFailover runs after a backup service has been promoted, so the
	// handler can restart any streaming session on it.
	OnFailover func(service IService)

	name           string
	mu             sync.RWMutex
	outputNextChan chan<- *EventPacket
	outputTopChan  chan<- *EventPacket
}

func NewBaseHandler(name string, service IService, backupServices []IService, logger *Logger) *BaseHandler {
	if logger == nil {
		logger = GetLogger()
	}
	return &BaseHandler{
		Service:        service,
		BackupServices: backupServices,
		Logger:         logger.With(map[string]any{"handler": name}),
		name:           name,
	}
}

func (h *BaseHandler) Name() string { return h.name }

func (h *BaseHandler) Initialize(
	inputChan <-chan *EventPacket,
	outputNextChan chan<- *EventPacket,
	outputTopChan chan<- *EventPacket,
	ctx context.Context,
) error {
	h.InputChan = inputChan
	h.outputNextChan = outputNextChan
	h.outputTopChan = outputTopChan
	h.FatalServiceErrorChan = make(chan error, 1)
	h.Ctx = ctx
	if h.Logger == nil {
		h.Logger = LoggerFromContext(ctx, nil)
	}

	go h.fatalErrorLoop()

	svc := h.CurrentService()
	if svc == nil {
		return nil
	}
	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("%s: initialize service: %w", h.name, err)
	}
	return nil
}

// CurrentService returns the active service, which changes after failover.
func (h *BaseHandler) CurrentService() IService {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Service
}

func (h *BaseHandler) Cleanup() error {
	if svc := h.CurrentService(); svc != nil {
		return svc.Cleanup()
	}
	return nil
}

func (h *BaseHandler) Reset() error {
	if svc := h.CurrentService(); svc != nil {
		return svc.Reset()
	}
	return nil
}

// SwitchToBackupService promotes the first backup service and initializes it
// with the handler context. The failed service is cleaned up.
func (h *BaseHandler) SwitchToBackupService() error {
	h.mu.Lock()
	if len(h.BackupServices) == 0 {
		h.mu.Unlock()
		return ErrNoBackupService
	}
	failed := h.Service
	next := h.BackupServices[0]
	h.BackupServices = h.BackupServices[1:]
	h.mu.Unlock()

	if err := next.Initialize(h.Ctx); err != nil {
		return fmt.Errorf("%s: initialize backup service: %w", h.name, err)
	}

	h.mu.Lock()
	h.Service = next
	h.mu.Unlock()

	if failed != nil {
		if err := failed.Cleanup(); err != nil {
			h.Logger.Warn("failed service cleanup", "error", err)
		}
	}
	if h.OnFailover != nil {
		h.OnFailover(next)
	}
	return nil
}

// SendPacket routes a packet by destination. It never blocks past the
// handler context.
func (h *BaseHandler) SendPacket(packet *EventPacket) {
	out := h.outputNextChan
	if packet.Destination == EventRelayDestinationTopService {
		out = h.outputTopChan
	}
	if out == nil {
		return
	}
	if h.Ctx == nil {
		out <- packet
		return
	}
	select {
	case out <- packet:
	case <-h.Ctx.Done():
	}
}

// Forward relays a packet untouched to the next handler.
func (h *BaseHandler) Forward(packet *EventPacket) {
	h.SendPacket(&EventPacket{
		Event:       packet.Event,
		Destination: EventRelayDestinationNextService,
		Uid:         packet.Uid,
		Relayer:     packet.Relayer,
	})
}

// Emit wraps event in a new packet relayed by this handler.
func (h *BaseHandler) Emit(event IEvent, destination EventRelayDestination) {
	h.SendPacket(NewEventPacket(event, destination, h.name))
}

// HandleError reports a fatal service error. Services call it from their
// own goroutines.
func (h *BaseHandler) HandleError(err error) {
	if err == nil || h.FatalServiceErrorChan == nil {
		return
	}
	select {
	case h.FatalServiceErrorChan <- err:
	case <-h.Ctx.Done():
	}
}

func (h *BaseHandler) fatalErrorLoop() {
	for {
		select {
		case err := <-h.FatalServiceErrorChan:
			h.Logger.Error("fatal service error", "error", err)
			if switchErr := h.SwitchToBackupService(); switchErr != nil {
				h.Logger.Error("failover failed", "error", switchErr)
				h.Emit(&CriticalErrorEvent{Error: err.Error()}, EventRelayDestinationTopService)
				continue
			}
			h.Logger.Warn("switched to backup service")
			h.Emit(&WarningEvent{Error: err.Error()}, EventRelayDestinationTopService)
		case <-h.Ctx.Done():
			return
		}
	}
}
