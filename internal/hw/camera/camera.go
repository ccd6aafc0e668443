package camera

import (
	"context"
	"time"

	"github.com/cjeanneret/timelapser/internal/imaging"
)

// StillConfig is the fixed still-image configuration applied once per session.
type StillConfig struct {
	Width         int // 0 = sensor default
	Height        int
	Quality       int // JPEG quality (1-100)
	Format        imaging.Format
	AutofocusMode string  // "manual", "auto" or "continuous"
	LensPosition  float64 // dioptres, used when AutofocusMode is "manual" (0 = infinity)
	Timeout       time.Duration
}

// Request is one captured still held by the driver until Release.
type Request interface {
	// Save writes the image to path.
	Save(path string) error
	// Metadata returns what the driver reported for the capture (may be nil).
	Metadata() map[string]any
	// Release frees the per-request buffers. Safe to call more than once.
	Release() error
}

// Device is the camera driver consumed by a capture session.
// It represents an abstract camera, regardless of how it's controlled
// (libcamera CLI, V4L2 through OpenCV, a mock...).
type Device interface {
	Acquire(ctx context.Context) error
	Configure(cfg StillConfig) error
	Start() error
	// Request blocks until the device returns one still.
	Request(ctx context.Context) (Request, error)
	Stop() error
	Release() error
	Name() string
}
