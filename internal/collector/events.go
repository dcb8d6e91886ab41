package collector

import (
	"sync/atomic"

	"serial-telemetry/internal/model"
)

// State is the acquisition pipeline's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateFlushing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFlushing:
		return "flushing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type atomicState struct{ v atomic.Int32 }

func (a *atomicState) Load() State   { return State(a.v.Load()) }
func (a *atomicState) Store(s State) { a.v.Store(int32(s)) }

// EventKind tags what an Event carries.
type EventKind int

const (
	// EventSample carries one parsed sample.
	EventSample EventKind = iota
	// EventSessionEnded reports the device reset sentinel; the session ended cleanly.
	EventSessionEnded
	// EventStopped reports that acquisition stopped on request.
	EventStopped
	// EventError reports that acquisition stopped because of an error.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSample:
		return "sample"
	case EventSessionEnded:
		return "session_ended"
	case EventStopped:
		return "stopped"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the tagged output of the acquisition pipeline.
type Event struct {
	Kind    EventKind
	Session string
	Sample  *model.Sample
	// Line is the raw sentinel line for EventSessionEnded.
	Line string
	Err  error
}

// Terminal reports whether the event ends a session.
func (e Event) Terminal() bool { return e.Kind != EventSample }
