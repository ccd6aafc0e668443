package camera

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/imaging"
)

// Mock renders a synthetic frame per request. Used with mock GPIO on a PC.
type Mock struct {
	cfg      StillConfig
	started  bool
	requests int
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Acquire(context.Context) error {
	debug.Verbose("Camera(mock): acquired")
	return nil
}

func (m *Mock) Configure(cfg StillConfig) error {
	if cfg.Width == 0 {
		cfg.Width = 320
	}
	if cfg.Height == 0 {
		cfg.Height = 240
	}
	if cfg.Format == "" {
		cfg.Format = imaging.PNG
	}
	m.cfg = cfg
	debug.PrintStruct("Camera(mock) config", cfg)
	return nil
}

func (m *Mock) Start() error {
	m.started = true
	return nil
}

func (m *Mock) Request(ctx context.Context) (Request, error) {
	if !m.started {
		return nil, errors.New("mock camera not started")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.requests++
	return &mockRequest{
		img:    imaging.TestPattern(m.cfg.Width, m.cfg.Height, m.requests),
		cfg:    m.cfg,
		taken:  time.Now(),
		serial: m.requests,
	}, nil
}

func (m *Mock) Stop() error {
	m.started = false
	return nil
}

func (m *Mock) Release() error {
	debug.Verbose("Camera(mock): released")
	return nil
}

type mockRequest struct {
	img    image.Image
	cfg    StillConfig
	taken  time.Time
	serial int
}

func (r *mockRequest) Save(path string) error {
	if r.img == nil {
		return errors.New("request already released")
	}
	return imaging.WriteFile(path, r.img, r.cfg.Format, r.cfg.Quality)
}

func (r *mockRequest) Metadata() map[string]any {
	return map[string]any{
		"SensorTimestamp": r.taken.UnixNano(),
		"FrameSequence":   r.serial,
		"LensPosition":    r.cfg.LensPosition,
	}
}

func (r *mockRequest) Release() error {
	r.img = nil
	return nil
}
