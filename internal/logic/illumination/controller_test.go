package illumination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/timelapser/internal/hw/light"
)

type recordingSource struct {
	fills   []light.Color
	closed  int
	failOn  int // 1-based Fill call that fails, 0 = never
	failErr error
}

func (s *recordingSource) Fill(c light.Color) error {
	s.fills = append(s.fills, c)
	if s.failOn == len(s.fills) {
		return s.failErr
	}
	return nil
}

func (s *recordingSource) Close() error {
	s.closed++
	return nil
}

func TestOnOff(t *testing.T) {
	src := &recordingSource{}
	c := New(src, light.White, 0.5)

	require.NoError(t, c.On())
	assert.True(t, c.IsOn())
	require.NoError(t, c.Off())
	assert.False(t, c.IsOn())

	assert.Equal(t, []light.Color{{Red: 127, Green: 127, Blue: 127}, light.Black}, src.fills)
}

func TestOn_Failure(t *testing.T) {
	src := &recordingSource{failOn: 1, failErr: errors.New("spi busy")}
	c := New(src, light.White, 1)

	err := c.On()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spi busy")
	assert.False(t, c.IsOn())
}

type sleepRecorder struct {
	sleeps []time.Duration
}

func (r *sleepRecorder) Now() time.Time { return time.Time{} }

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

func TestFlash(t *testing.T) {
	src := &recordingSource{}
	clock := &sleepRecorder{}
	c := New(src, light.Color{Red: 255}, 1, WithClock(clock))

	require.NoError(t, c.Flash(context.Background(), 1500*time.Millisecond, 500*time.Millisecond))
	assert.Equal(t, []light.Color{{Red: 255}, light.Black}, src.fills)
	assert.False(t, c.IsOn())
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 500 * time.Millisecond}, clock.sleeps)
}

func TestFlash_WallClock(t *testing.T) {
	src := &recordingSource{}
	c := New(src, light.White, 1)

	require.NoError(t, c.Flash(context.Background(), time.Millisecond, time.Millisecond))
	assert.Equal(t, []light.Color{light.White, light.Black}, src.fills)
}

func TestFlash_CancelledLeavesLightOff(t *testing.T) {
	src := &recordingSource{}
	c := New(src, light.White, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Flash(ctx, time.Hour, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []light.Color{light.White, light.Black}, src.fills)
}

func TestClose(t *testing.T) {
	src := &recordingSource{}
	c := New(src, light.White, 1)
	require.NoError(t, c.On())
	require.NoError(t, c.Close())
	assert.Equal(t, light.Black, src.fills[len(src.fills)-1])
	assert.Equal(t, 1, src.closed)
}
