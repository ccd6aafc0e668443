package capture

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/timelapser/internal/hw/camera"
	"github.com/cjeanneret/timelapser/internal/imaging"
)

func openFake(t *testing.T, dev *fakeDevice) *Session {
	t.Helper()
	s, err := Open(context.Background(), dev, camera.StillConfig{Format: imaging.PNG}, WithSessionClock(newFakeClock()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_Lifecycle(t *testing.T) {
	log := &callLog{}
	s := openFake(t, &fakeDevice{log: log})

	assert.Equal(t, Running, s.State())
	assert.Equal(t, []string{"acquire", "configure", "start"}, log.snapshot())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 1, log.count("stop"))
	assert.Equal(t, 1, log.count("release"))
}

func TestOpen_Failures(t *testing.T) {
	tests := []struct {
		name        string
		dev         *fakeDevice
		wantRelease int
	}{
		{"acquire", &fakeDevice{acquireErr: errInjected}, 0},
		{"configure", &fakeDevice{configureErr: errInjected}, 1},
		{"start", &fakeDevice{startErr: errInjected}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &callLog{}
			tt.dev.log = log
			_, err := Open(context.Background(), tt.dev, camera.StillConfig{})
			require.Error(t, err)
			assert.Equal(t, DeviceUnavailable, KindOf(err))
			assert.ErrorIs(t, err, errInjected)
			assert.Equal(t, tt.wantRelease, log.count("release"))

			// The process-wide slot is free again.
			s := openFake(t, &fakeDevice{log: &callLog{}})
			require.NoError(t, s.Close())
		})
	}
}

func TestOpen_SecondSessionRejected(t *testing.T) {
	openFake(t, &fakeDevice{log: &callLog{}})

	_, err := Open(context.Background(), &fakeDevice{log: &callLog{}}, camera.StillConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, DeviceUnavailable, KindOf(err))
}

func TestCaptureFrame_WritesOneFile(t *testing.T) {
	log := &callLog{}
	s := openFake(t, &fakeDevice{log: log})
	dir := t.TempDir()

	res, err := s.CaptureFrame(context.Background(), 7, dir)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Timepoint)
	assert.Equal(t, dir, filepath.Dir(res.Path))
	assert.Regexp(t, `^image_0007_at_10h00m00\.\d{3}s\.png$`, filepath.Base(res.Path))
	assert.Equal(t, int64(len("frame 1")), res.Size)
	assert.Equal(t, 1, res.Metadata["n"])
	assert.Equal(t, 1, log.count("request release 1"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCaptureFrame_RequestFailure(t *testing.T) {
	s := openFake(t, &fakeDevice{log: &callLog{}, requestFail: 1})

	_, err := s.CaptureFrame(context.Background(), 1, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, CaptureFailed, KindOf(err))
	assert.Equal(t, 1, TimepointOf(err))
}

func TestCaptureFrame_SaveFailureRemovesPartial(t *testing.T) {
	log := &callLog{}
	s := openFake(t, &fakeDevice{log: log, saveFail: 1})
	dir := t.TempDir()

	_, err := s.CaptureFrame(context.Background(), 1, dir)
	require.Error(t, err)
	assert.Equal(t, CaptureFailed, KindOf(err))
	assert.Equal(t, 1, log.count("request release 1"), "request released on failure")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type stoppedClock struct{ at time.Time }

func (c stoppedClock) Now() time.Time { return c.at }
func (c stoppedClock) Sleep(context.Context, time.Duration) error { return nil }

func TestCaptureFrame_ExistingFileUntouched(t *testing.T) {
	at := time.Date(2026, 10, 15, 3, 4, 5, 0, time.Local)
	dir := t.TempDir()
	existing := filepath.Join(dir, "image_0001_at_03h04m05.000s.png")
	require.NoError(t, os.WriteFile(existing, []byte("keep me"), 0o644))

	s, err := Open(context.Background(), camera.NewMock(), camera.StillConfig{Format: imaging.PNG}, WithSessionClock(stoppedClock{at}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.CaptureFrame(context.Background(), 1, dir)
	require.Error(t, err)
	assert.Equal(t, CaptureFailed, KindOf(err))
	assert.ErrorIs(t, err, fs.ErrExist)

	data, err := os.ReadFile(existing)
	require.NoError(t, err, "existing frame must survive")
	assert.Equal(t, "keep me", string(data))
}

func TestCaptureFrame_ExistingFileReleasesRequest(t *testing.T) {
	log := &callLog{}
	clock := stoppedClock{time.Date(2026, 10, 15, 3, 4, 5, 0, time.Local)}
	s, err := Open(context.Background(), &fakeDevice{log: log}, camera.StillConfig{Format: imaging.PNG}, WithSessionClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	dir := t.TempDir()

	_, err = s.CaptureFrame(context.Background(), 1, dir)
	require.NoError(t, err)
	_, err = s.CaptureFrame(context.Background(), 1, dir)
	require.Error(t, err)
	assert.Equal(t, 1, log.count("request release 2"))
}

func TestCaptureFrame_IndexWidth(t *testing.T) {
	s, err := Open(context.Background(), &fakeDevice{log: &callLog{}}, camera.StillConfig{Format: imaging.PNG},
		WithSessionClock(newFakeClock()), WithIndexWidth(6))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	res, err := s.CaptureFrame(context.Background(), 12, t.TempDir())
	require.NoError(t, err)
	assert.Regexp(t, `^image_000012_at_`, filepath.Base(res.Path))
}

func TestCaptureFrame_ReleaseFailureKeepsFile(t *testing.T) {
	s := openFake(t, &fakeDevice{log: &callLog{}, reqRelFail: 1})
	dir := t.TempDir()

	res, err := s.CaptureFrame(context.Background(), 1, dir)
	require.Error(t, err)
	assert.Equal(t, CaptureFailed, KindOf(err))
	assert.FileExists(t, res.Path)
}

func TestCaptureFrame_AfterClose(t *testing.T) {
	s := openFake(t, &fakeDevice{log: &callLog{}})
	require.NoError(t, s.Close())

	_, err := s.CaptureFrame(context.Background(), 1, t.TempDir())
	assert.Equal(t, CaptureFailed, KindOf(err))
}

func TestClose_ReportsReleaseError(t *testing.T) {
	dev := &fakeDevice{log: &callLog{}}
	s := openFake(t, dev)
	dev.releaseErr = errors.New("busy")

	err := s.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
	assert.Equal(t, Stopped, s.State())
	require.NoError(t, s.Close())
}
