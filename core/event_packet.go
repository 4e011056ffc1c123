package core

import "github.com/google/uuid"

type EventRelayDestination int

const (
	EventRelayDestinationNextService EventRelayDestination = iota + 1 // Next handler in the chain.
	EventRelayDestinationTopService                                   // Re-injected at the first handler so every handler sees it.
)

type EventPacket struct {
	Event       IEvent
	Destination EventRelayDestination
	Uid         string
	Relayer     string
}

func NewEventPacket(event IEvent, destination EventRelayDestination, relayer string) *EventPacket {
	return &EventPacket{
		Event:       event,
		Destination: destination,
		Uid:         uuid.NewString(),
		Relayer:     relayer,
	}
}
