package core

type IEvent interface {
	GetId() string
}

// CriticalErrorEvent ends the session. The runner stops on it.
type CriticalErrorEvent struct {
	Error string
}

func (e *CriticalErrorEvent) GetId() string {
	return "shared.critical_error"
}

type WarningEvent struct {
	Error string
}

func (e *WarningEvent) GetId() string {
	return "shared.warning"
}

// EndCallEvent asks the runner to stop the pipeline gracefully.
type EndCallEvent struct {
	Reason string
}

func (e *EndCallEvent) GetId() string {
	return "shared.end_call"
}

const (
	EndReasonParticipantLeft = "participant_left"
	EndReasonRoomClosed      = "room_closed"
	EndReasonCriticalError   = "critical_error"
	EndReasonTimeout         = "timeout"
	EndReasonCancelled       = "cancelled"
)
