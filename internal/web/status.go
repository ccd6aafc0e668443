package web

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cjeanneret/timelapser/internal/logic/capture"
)

// Snapshot is the JSON body of GET /status.
type Snapshot struct {
	RunID     string     `json:"run_id"`
	State     string     `json:"state"`
	Active    bool       `json:"active"`
	Timepoint int        `json:"timepoint"`
	Samples   int        `json:"samples"`
	IntervalS float64    `json:"interval_s"`
	OutputDir string     `json:"output_dir"`
	LastFrame *LastFrame `json:"last_frame,omitempty"`
	NextAt    *time.Time `json:"next_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// LastFrame describes the most recent image.
type LastFrame struct {
	Timepoint int       `json:"timepoint"`
	Path      string    `json:"path"`
	At        time.Time `json:"at"`
	Size      string    `json:"size"`
}

// Tracker follows the run's events, keeps the latest snapshot and forwards
// each event to the SSE stream.
type Tracker struct {
	b *StatusBroadcaster

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker returns a tracker for run id broadcasting on b (may be nil).
func NewTracker(runID string, b *StatusBroadcaster) *Tracker {
	return &Tracker{b: b, snap: Snapshot{RunID: runID, State: capture.StateIdle.String()}}
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snap
	if s.LastFrame != nil {
		lf := *s.LastFrame
		s.LastFrame = &lf
	}
	return s
}

// Active reports whether a run is in progress.
func (t *Tracker) Active() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Active
}

// LatestFramePath returns the path of the last frame written, or "".
func (t *Tracker) LatestFramePath() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.snap.LastFrame == nil {
		return ""
	}
	return t.snap.LastFrame.Path
}

func (t *Tracker) Observe(e capture.Event) {
	t.mu.Lock()
	msg := t.apply(e)
	snap := t.snap
	t.mu.Unlock()

	if t.b == nil {
		return
	}
	level := "info"
	if e.Type == capture.EventFinished && e.Err != nil {
		level = "error"
	}
	t.b.Send(StatusEvent{
		Level:     level,
		Kind:      string(e.Type),
		Msg:       msg,
		State:     snap.State,
		Timepoint: snap.Timepoint,
		Samples:   snap.Samples,
	})
}

// apply updates the snapshot and returns a human readable line. Called with mu held.
func (t *Tracker) apply(e capture.Event) string {
	s := &t.snap
	switch e.Type {
	case capture.EventStarted:
		s.Active = true
		s.Samples = e.Samples
		s.IntervalS = e.Interval.Seconds()
		s.OutputDir = e.Location
		s.Error = ""
		return fmt.Sprintf("Run started: %d frames, one every %v", e.Samples, e.Interval)

	case capture.EventState:
		s.State = e.State.String()
		s.Timepoint = e.Timepoint
		s.NextAt = nil
		if e.State == capture.StateSleeping {
			next := e.At.Add(e.Interval)
			s.NextAt = &next
			return fmt.Sprintf("Sleeping until %s", next.Format("15:04:05"))
		}
		if e.State == capture.StateCapturing {
			return fmt.Sprintf("Taking image %d/%d", e.Timepoint, e.Samples)
		}
		return "State: " + s.State

	case capture.EventFrame:
		s.LastFrame = &LastFrame{
			Timepoint: e.Timepoint,
			Path:      e.Frame.Path,
			At:        e.Frame.At,
			Size:      humanize.IBytes(uint64(e.Frame.Size)),
		}
		return fmt.Sprintf("Frame %d written (%s)", e.Timepoint, s.LastFrame.Size)

	case capture.EventFinished:
		s.Active = false
		s.NextAt = nil
		if e.Err != nil {
			s.Error = e.Err.Error()
			return "Run failed: " + s.Error
		}
		return fmt.Sprintf("Run complete: %d frames", e.Timepoint)
	}
	return string(e.Type)
}
