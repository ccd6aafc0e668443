// Package illumination switches the ring light around each capture.
package illumination

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/hw/light"
	"github.com/cjeanneret/timelapser/internal/logic/capture"
)

// Controller turns a light.Source on with a fixed colour and off again.
// It is driven from the run loop only and is not safe for concurrent use.
type Controller struct {
	src   light.Source
	color light.Color
	clock capture.Clock
	on    bool
}

// Option customises New.
type Option func(*Controller)

// WithClock times flashes with c instead of the wall clock.
func WithClock(c capture.Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// New returns a controller lighting src with color scaled by brightness.
func New(src light.Source, color light.Color, brightness float64, opts ...Option) *Controller {
	c := &Controller{src: src, color: color.Scale(brightness), clock: capture.SystemClock{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// On fills the light with the configured colour.
func (c *Controller) On() error {
	if err := c.src.Fill(c.color); err != nil {
		return fmt.Errorf("light on: %w", err)
	}
	c.on = true
	debug.Verbose("Light on %+v", c.color)
	return nil
}

// Off blanks the light.
func (c *Controller) Off() error {
	if err := c.src.Fill(light.Black); err != nil {
		return fmt.Errorf("light off: %w", err)
	}
	c.on = false
	debug.Verbose("Light off")
	return nil
}

// IsOn reports the last state successfully written.
func (c *Controller) IsOn() bool { return c.on }

// Flash turns the light on for onDuration then off for offDuration.
// The light is left off even if ctx is cancelled in between.
func (c *Controller) Flash(ctx context.Context, onDuration, offDuration time.Duration) error {
	if err := c.On(); err != nil {
		return err
	}
	waitErr := c.clock.Sleep(ctx, onDuration)
	if err := c.Off(); err != nil {
		return err
	}
	if waitErr != nil {
		return waitErr
	}
	return c.clock.Sleep(ctx, offDuration)
}

// Close blanks and releases the light source.
func (c *Controller) Close() error {
	offErr := c.Off()
	if err := c.src.Close(); err != nil {
		return fmt.Errorf("close light: %w", err)
	}
	return offErr
}
