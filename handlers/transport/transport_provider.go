package transport

import (
	"context"
)

// Job is one room assignment handed to the session runner. The transport is
// already connected to the room when the handler receives it.
type Job struct {
	ID        string
	RoomName  string
	Metadata  string
	Transport ITransportService
}

type JobHandler func(ctx context.Context, job Job) error

type ITransportProvider interface {
	Start() error
	Stop() error
	RegisterJobHandler(handler JobHandler) error
}
