//go:build opencv

package camera

import (
	"context"
	"errors"
	"fmt"

	gocv "gocv.io/x/gocv"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/imaging"
)

// OpenCV captures from a V4L2/UVC device through gocv. Build with -tags opencv.
type OpenCV struct {
	deviceID string
	cam      *gocv.VideoCapture
	cfg      StillConfig
	started  bool
}

func NewOpenCV(deviceID string) (Device, error) {
	if deviceID == "" {
		deviceID = "0"
	}
	return &OpenCV{deviceID: deviceID}, nil
}

func (c *OpenCV) Name() string { return "opencv:" + c.deviceID }

func (c *OpenCV) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cam, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return fmt.Errorf("open video capture %s: %w", c.deviceID, err)
	}
	if !cam.IsOpened() {
		_ = cam.Close()
		return fmt.Errorf("video capture %s not opened", c.deviceID)
	}
	c.cam = cam
	return nil
}

func (c *OpenCV) Configure(cfg StillConfig) error {
	if c.cam == nil {
		return errors.New("camera not acquired")
	}
	if cfg.Format == "" {
		cfg.Format = imaging.PNG
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		c.cam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		c.cam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	switch cfg.AutofocusMode {
	case "", "manual":
		c.cam.Set(gocv.VideoCaptureAutoFocus, 0)
		c.cam.Set(gocv.VideoCaptureFocus, cfg.LensPosition)
	default:
		c.cam.Set(gocv.VideoCaptureAutoFocus, 1)
	}
	c.cfg = cfg
	debug.Verbose("Camera(opencv): %dx%d reported",
		int(c.cam.Get(gocv.VideoCaptureFrameWidth)), int(c.cam.Get(gocv.VideoCaptureFrameHeight)))
	return nil
}

func (c *OpenCV) Start() error {
	if c.cam == nil {
		return errors.New("camera not acquired")
	}
	c.started = true
	return nil
}

func (c *OpenCV) Request(ctx context.Context) (Request, error) {
	if !c.started {
		return nil, errors.New("camera not started")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := gocv.NewMat()
	if ok := c.cam.Read(&img); !ok {
		_ = img.Close()
		return nil, errors.New("cannot read device")
	}
	if img.Empty() {
		_ = img.Close()
		return nil, errors.New("no image on device")
	}
	return &opencvRequest{mat: img, cfg: c.cfg}, nil
}

func (c *OpenCV) Stop() error {
	c.started = false
	return nil
}

func (c *OpenCV) Release() error {
	if c.cam == nil {
		return nil
	}
	err := c.cam.Close()
	c.cam = nil
	return err
}

type opencvRequest struct {
	mat      gocv.Mat
	cfg      StillConfig
	released bool
}

func (r *opencvRequest) Save(path string) error {
	if r.released {
		return errors.New("request already released")
	}
	img, err := r.mat.ToImage()
	if err != nil {
		return fmt.Errorf("convert frame: %w", err)
	}
	return imaging.WriteFile(path, img, r.cfg.Format, r.cfg.Quality)
}

func (r *opencvRequest) Metadata() map[string]any {
	return map[string]any{"Rows": r.mat.Rows(), "Cols": r.mat.Cols()}
}

func (r *opencvRequest) Release() error {
	if r.released {
		return nil
	}
	r.released = true
	return r.mat.Close()
}
