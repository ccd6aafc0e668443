package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/logic/output"
	"github.com/cjeanneret/timelapser/internal/logic/schedule"
)

// RunnerState is the position of the run loop.
type RunnerState int

const (
	StateIdle RunnerState = iota
	StateCapturing
	StateSleeping
	StateCompleted
	StateAborting
	StateStopped
)

func (s RunnerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateSleeping:
		return "sleeping"
	case StateCompleted:
		return "completed"
	case StateAborting:
		return "aborting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets the state appear by name in JSON.
func (s RunnerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// FrameCapturer is the part of a Session the runner drives.
type FrameCapturer interface {
	CaptureFrame(ctx context.Context, timepoint int, dir string) (FrameResult, error)
	Close() error
}

// Illuminator lights the subject around each capture.
type Illuminator interface {
	On() error
	Off() error
}

// Advancer moves the subject after a frame (turntable).
type Advancer interface {
	Advance(ctx context.Context, timepoint int) error
}

// Report summarises a finished run.
type Report struct {
	Location string
	Interval time.Duration
	Frames   []FrameResult
	Started  time.Time
	Finished time.Time
}

// Runner sequences light on, capture, light off and sleep for every
// timepoint, then closes the session exactly once.
type Runner struct {
	session   FrameCapturer
	light     Illuminator
	advancer  Advancer
	clock     Clock
	observers []Observer

	mu    sync.Mutex
	state RunnerState
	tp    int
}

// RunnerOption customises NewRunner.
type RunnerOption func(*Runner)

func WithClock(c Clock) RunnerOption { return func(r *Runner) { r.clock = c } }

func WithAdvancer(a Advancer) RunnerOption { return func(r *Runner) { r.advancer = a } }

func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// NewRunner returns a runner owning session. light may be nil.
func NewRunner(session FrameCapturer, light Illuminator, opts ...RunnerOption) *Runner {
	r := &Runner{session: session, light: light, clock: SystemClock{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State returns the current loop state and timepoint. Safe for concurrent use.
func (r *Runner) State() (RunnerState, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.tp
}

func (r *Runner) publish(e Event) {
	e.At = r.clock.Now()
	for _, o := range r.observers {
		o.Observe(e)
	}
}

func (r *Runner) enter(s RunnerState, tp int, p schedule.RunParameters, location string) {
	r.mu.Lock()
	r.state, r.tp = s, tp
	r.mu.Unlock()
	r.publish(Event{
		Type:      EventState,
		State:     s,
		Timepoint: tp,
		Samples:   p.SampleCount,
		Interval:  p.Interval(),
		Location:  location,
	})
}

// Run captures params.SampleCount frames into location. The session is closed
// before Run returns, whatever the outcome.
func (r *Runner) Run(ctx context.Context, params schedule.RunParameters, location string) (rep Report, err error) {
	rep = Report{Location: location, Interval: params.Interval(), Started: r.clock.Now()}

	var closeOnce sync.Once
	closeSession := func() {
		closeOnce.Do(func() {
			if cerr := r.session.Close(); cerr != nil {
				debug.Error(fmt.Errorf("close session: %w", cerr))
				if err == nil {
					err = newError(DeviceUnavailable, 0, fmt.Errorf("close session: %w", cerr))
				}
			}
		})
	}
	defer func() {
		if err != nil {
			r.enter(StateAborting, TimepointOf(err), params, location)
		}
		closeSession()
		rep.Finished = r.clock.Now()
		if err != nil {
			r.enter(StateStopped, TimepointOf(err), params, location)
		}
		r.publish(Event{
			Type:      EventFinished,
			Timepoint: len(rep.Frames),
			Samples:   params.SampleCount,
			Interval:  rep.Interval,
			Location:  location,
			Err:       err,
		})
	}()

	if verr := params.Validate(); verr != nil {
		return rep, newError(InvalidParameters, 0, verr)
	}
	r.publish(Event{Type: EventStarted, Samples: params.SampleCount, Interval: rep.Interval, Location: location})
	if params.SampleCount == 0 {
		r.enter(StateCompleted, 0, params, location)
		return rep, nil
	}
	if derr := output.EnsureExists(location); derr != nil {
		return rep, newError(DirectoryCreationFailed, 0, derr)
	}

	for tp := 1; tp <= params.SampleCount; tp++ {
		if ctx.Err() != nil {
			return rep, newError(Interrupted, tp, ctx.Err())
		}

		r.enter(StateCapturing, tp, params, location)
		frame, ferr := r.captureLit(ctx, tp, location)
		if frame.Path != "" {
			rep.Frames = append(rep.Frames, frame)
			r.publish(Event{
				Type:      EventFrame,
				Timepoint: tp,
				Samples:   params.SampleCount,
				Location:  location,
				Frame:     &frame,
			})
		}
		if ferr != nil {
			return rep, ferr
		}

		if r.advancer != nil {
			if aerr := r.advancer.Advance(ctx, tp); aerr != nil {
				if ctx.Err() != nil {
					return rep, newError(Interrupted, tp, ctx.Err())
				}
				return rep, newError(DeviceUnavailable, tp, aerr)
			}
		}

		if tp == params.SampleCount && !params.SleepAfterLast {
			break
		}
		r.enter(StateSleeping, tp, params, location)
		if serr := r.clock.Sleep(ctx, rep.Interval); serr != nil {
			return rep, newError(Interrupted, tp, serr)
		}
	}

	r.enter(StateCompleted, params.SampleCount, params, location)
	return rep, nil
}

// captureLit brackets one capture with the light. The light is switched off
// even when the capture fails.
func (r *Runner) captureLit(ctx context.Context, tp int, dir string) (FrameResult, error) {
	if r.light != nil {
		if err := r.light.On(); err != nil {
			return FrameResult{}, newError(DeviceUnavailable, tp, err)
		}
	}
	frame, err := r.session.CaptureFrame(ctx, tp, dir)
	if r.light != nil {
		if offErr := r.light.Off(); offErr != nil {
			if err != nil {
				debug.Warn("light off after failed capture %d: %v", tp, offErr)
			} else {
				return frame, newError(DeviceUnavailable, tp, offErr)
			}
		}
	}
	if err != nil && ctx.Err() != nil {
		return frame, newError(Interrupted, tp, errors.Join(ctx.Err(), err))
	}
	return frame, err
}
