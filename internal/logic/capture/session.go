package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/hw/camera"
	"github.com/cjeanneret/timelapser/internal/logic/output"
)

// SessionState tracks the camera lifecycle.
type SessionState int

const (
	Uninitialized SessionState = iota
	Configured
	Running
	Stopped
)

func (s SessionState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FrameResult describes one persisted frame.
type FrameResult struct {
	Timepoint int
	Path      string
	At        time.Time
	Size      int64
	Metadata  map[string]any
}

// active guards the one-session-per-process rule.
var active atomic.Bool

// Session owns the camera for the duration of a run.
type Session struct {
	device camera.Device
	ext    string
	clock  Clock
	width  int
	state  SessionState
}

// SessionOption customises Open.
type SessionOption func(*Session)

// WithSessionClock timestamps frames with c instead of the wall clock.
func WithSessionClock(c Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// WithIndexWidth zero-pads frame indices to n digits.
func WithIndexWidth(n int) SessionOption {
	return func(s *Session) { s.width = n }
}

// Open acquires, configures and starts device. Every failure is reported as
// DeviceUnavailable; a partially acquired device is released first.
func Open(ctx context.Context, device camera.Device, cfg camera.StillConfig, opts ...SessionOption) (*Session, error) {
	if !active.CompareAndSwap(false, true) {
		return nil, newError(DeviceUnavailable, 0, ErrSessionActive)
	}
	s := &Session{device: device, ext: cfg.Format.Ext(), clock: SystemClock{}, width: output.MinIndexWidth}
	if s.ext == "" {
		s.ext = "png"
	}
	for _, o := range opts {
		o(s)
	}

	debug.Verbose("Camera: opening %s", device.Name())
	if err := device.Acquire(ctx); err != nil {
		active.Store(false)
		return nil, newError(DeviceUnavailable, 0, fmt.Errorf("acquire %s: %w", device.Name(), err))
	}
	if err := device.Configure(cfg); err != nil {
		s.abandon()
		return nil, newError(DeviceUnavailable, 0, fmt.Errorf("configure %s: %w", device.Name(), err))
	}
	s.state = Configured
	if err := device.Start(); err != nil {
		s.abandon()
		return nil, newError(DeviceUnavailable, 0, fmt.Errorf("start %s: %w", device.Name(), err))
	}
	s.state = Running
	return s, nil
}

func (s *Session) abandon() {
	if err := s.device.Release(); err != nil {
		debug.Warn("release %s after failed open: %v", s.device.Name(), err)
	}
	s.state = Stopped
	active.Store(false)
}

// State returns the lifecycle state.
func (s *Session) State() SessionState { return s.state }

// CaptureFrame takes one still and saves it in dir. The per-request handle is
// released on every path. An existing file at the frame path is never
// touched. A failed save leaves no file behind; a failed release is reported
// after the file was written.
func (s *Session) CaptureFrame(ctx context.Context, timepoint int, dir string) (FrameResult, error) {
	if s.state != Running {
		return FrameResult{}, newError(CaptureFailed, timepoint, fmt.Errorf("session is %s", s.state))
	}
	req, err := s.device.Request(ctx)
	if err != nil {
		return FrameResult{}, newError(CaptureFailed, timepoint, fmt.Errorf("request still: %w", err))
	}

	at := s.clock.Now()
	res := FrameResult{
		Timepoint: timepoint,
		Path:      filepath.Join(dir, output.FrameName(timepoint, s.width, at, s.ext)),
		At:        at,
		Metadata:  req.Metadata(),
	}
	if _, err := os.Lstat(res.Path); err == nil {
		s.releaseAfterFailure(req, timepoint)
		return FrameResult{}, newError(CaptureFailed, timepoint, fmt.Errorf("save %s: %w", res.Path, fs.ErrExist))
	}
	if err := req.Save(res.Path); err != nil {
		// A file that appeared concurrently is not ours to remove.
		if !errors.Is(err, fs.ErrExist) {
			if rmErr := os.Remove(res.Path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				debug.Warn("remove partial frame %s: %v", res.Path, rmErr)
			}
		}
		s.releaseAfterFailure(req, timepoint)
		return FrameResult{}, newError(CaptureFailed, timepoint, fmt.Errorf("save %s: %w", res.Path, err))
	}
	if info, err := os.Stat(res.Path); err == nil {
		res.Size = info.Size()
	}
	if err := req.Release(); err != nil {
		return res, newError(CaptureFailed, timepoint, fmt.Errorf("release request: %w", err))
	}
	return res, nil
}

func (s *Session) releaseAfterFailure(req camera.Request, timepoint int) {
	if err := req.Release(); err != nil {
		debug.Warn("release request %d: %v", timepoint, err)
	}
}

// Close stops and releases the camera. Only the first call does anything.
func (s *Session) Close() error {
	if s.state == Stopped || s.state == Uninitialized {
		return nil
	}
	var errs []error
	if s.state == Running {
		if err := s.device.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", s.device.Name(), err))
		}
	}
	if err := s.device.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release %s: %w", s.device.Name(), err))
	}
	s.state = Stopped
	active.Store(false)
	debug.Verbose("Camera: %s released", s.device.Name())
	return errors.Join(errs...)
}
