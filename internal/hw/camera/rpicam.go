package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/imaging"
)

// DefaultRPiCamBinary is the libcamera still tool shipped with Raspberry Pi OS
// (Bookworm). Older images call it libcamera-still.
const DefaultRPiCamBinary = "rpicam-still"

// execCommand is replaced in tests.
var execCommand = exec.CommandContext

// RPiCam drives a Raspberry Pi camera module through the rpicam-still CLI.
// Each request runs one capture with the configuration set by Configure.
type RPiCam struct {
	binary  string
	index   int
	args    []string
	timeout time.Duration
	tmpDir  string
	started bool
}

// NewRPiCam returns a driver for camera index on the given binary.
func NewRPiCam(binary string, index int) *RPiCam {
	if binary == "" {
		binary = DefaultRPiCamBinary
	}
	return &RPiCam{binary: binary, index: index}
}

func (r *RPiCam) Name() string { return r.binary }

// Acquire checks that the tool is installed and that it can see a camera.
func (r *RPiCam) Acquire(ctx context.Context) error {
	path, err := exec.LookPath(r.binary)
	if err != nil {
		return fmt.Errorf("%s not found: %w", r.binary, err)
	}
	r.binary = path

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := execCommand(ctx, r.binary, "--list-cameras").CombinedOutput()
	if err != nil {
		return fmt.Errorf("list cameras: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if bytes.Contains(out, []byte("No cameras available")) {
		return errors.New("no cameras available")
	}
	debug.Verbose("Camera: %s", strings.TrimSpace(string(out)))

	r.tmpDir, err = os.MkdirTemp("", "timelapser-rpicam-")
	if err != nil {
		return fmt.Errorf("create capture scratch dir: %w", err)
	}
	return nil
}

// Configure builds the still-capture argument list.
func (r *RPiCam) Configure(cfg StillConfig) error {
	switch cfg.Format {
	case "":
		cfg.Format = imaging.PNG
	case imaging.PNG, imaging.JPEG, imaging.BMP:
	default:
		return fmt.Errorf("%s cannot encode %s", r.binary, cfg.Format)
	}

	args := []string{
		"--camera", strconv.Itoa(r.index),
		"--nopreview",
		"--immediate",
		"--timeout", "1",
		"--encoding", string(cfg.Format),
		"--metadata-format", "json",
	}
	if cfg.Format == imaging.JPEG && cfg.Quality > 0 {
		args = append(args, "--quality", strconv.Itoa(cfg.Quality))
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		args = append(args, "--width", strconv.Itoa(cfg.Width), "--height", strconv.Itoa(cfg.Height))
	}
	switch cfg.AutofocusMode {
	case "", "manual":
		args = append(args, "--autofocus-mode", "manual",
			"--lens-position", strconv.FormatFloat(cfg.LensPosition, 'f', -1, 64))
	case "auto", "continuous":
		args = append(args, "--autofocus-mode", cfg.AutofocusMode)
	default:
		return fmt.Errorf("unknown autofocus mode %q", cfg.AutofocusMode)
	}

	r.args = args
	r.timeout = cfg.Timeout
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	debug.Verbose("Camera: %s %s", r.binary, strings.Join(args, " "))
	return nil
}

func (r *RPiCam) Start() error {
	if r.args == nil {
		return errors.New("camera not configured")
	}
	r.started = true
	return nil
}

// Request runs one capture into the scratch directory.
func (r *RPiCam) Request(ctx context.Context) (Request, error) {
	if !r.started {
		return nil, errors.New("camera not started")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
	img := filepath.Join(r.tmpDir, stamp+".img")
	meta := filepath.Join(r.tmpDir, stamp+".json")

	args := append(append([]string(nil), r.args...), "--output", img, "--metadata", meta)
	out, err := execCommand(ctx, r.binary, args...).CombinedOutput()
	if err != nil {
		_ = os.Remove(img)
		_ = os.Remove(meta)
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(r.binary), err, lastLine(out))
	}

	req := &rpicamRequest{file: img}
	if data, err := os.ReadFile(meta); err == nil {
		if err := json.Unmarshal(data, &req.meta); err != nil {
			debug.Warn("camera metadata unreadable: %v", err)
		}
	}
	_ = os.Remove(meta)
	return req, nil
}

func (r *RPiCam) Stop() error {
	r.started = false
	return nil
}

// Release removes the scratch directory.
func (r *RPiCam) Release() error {
	if r.tmpDir == "" {
		return nil
	}
	err := os.RemoveAll(r.tmpDir)
	r.tmpDir = ""
	return err
}

type rpicamRequest struct {
	file string
	meta map[string]any
}

// Save moves the captured file into place, copying across filesystems.
func (q *rpicamRequest) Save(path string) error {
	if q.file == "" {
		return errors.New("request already released")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.Rename(q.file, path); err == nil {
		q.file = ""
		return nil
	}
	if err := copyFile(q.file, path); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func (q *rpicamRequest) Metadata() map[string]any { return q.meta }

func (q *rpicamRequest) Release() error {
	if q.file == "" {
		return nil
	}
	err := os.Remove(q.file)
	q.file = ""
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func lastLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
