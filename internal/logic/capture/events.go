package capture

import (
	"time"

	"github.com/cjeanneret/timelapser/internal/debug"
)

// EventType identifies what an Event reports.
type EventType string

const (
	EventStarted  EventType = "started"
	EventState    EventType = "state"
	EventFrame    EventType = "frame"
	EventFinished EventType = "finished"
)

// Event is published by the Runner on every state change and frame.
type Event struct {
	Type      EventType
	At        time.Time
	State     RunnerState
	Timepoint int
	Samples   int
	Interval  time.Duration
	Location  string
	Frame     *FrameResult
	// Err is set on EventFinished when the run did not complete.
	Err error
}

// Observer receives run events synchronously, on the run loop goroutine.
// Implementations must not block for long.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// LogObserver writes events to the debug log.
type LogObserver struct{}

func (LogObserver) Observe(e Event) {
	switch e.Type {
	case EventStarted:
		debug.Plan(e.Samples, e.Interval, e.Location)
	case EventState:
		switch e.State {
		case StateCapturing:
			debug.Timepoint(e.Timepoint, e.Samples)
		case StateSleeping:
			debug.Sleep(e.Interval)
		default:
			debug.Verbose("Runner: %s", e.State)
		}
	case EventFrame:
		debug.Shot(e.Timepoint, e.Frame.Path)
	case EventFinished:
		if e.Err != nil {
			debug.Error(e.Err)
			return
		}
		debug.Info("Timelapse complete: %d frames in %s", e.Timepoint, e.Location)
	}
}
