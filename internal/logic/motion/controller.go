package motion

import (
	"context"
	"fmt"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/hw/stepper"
)

// Turntable rotates the subject by a fixed angle between timepoints, so a
// timelapse can also sweep around the specimen.
type Turntable struct {
	motor          *stepper.Stepper
	degreesPerStep float64
	hold           bool
}

// NewTurntable returns a turntable that turns degreesPerFrame after every
// frame. When hold is false the driver is disabled between moves so the coils
// do not vibrate during capture.
func NewTurntable(m *stepper.Stepper, degreesPerFrame float64, hold bool) *Turntable {
	t := &Turntable{motor: m, degreesPerStep: degreesPerFrame, hold: hold}
	if !hold {
		_ = m.Disable()
	}
	return t
}

// Advance rotates to the position of the frame after timepoint.
func (t *Turntable) Advance(ctx context.Context, timepoint int) error {
	if t.degreesPerStep == 0 {
		return nil
	}
	debug.Live("Turntable: advancing %.2f° after frame %d", t.degreesPerStep, timepoint)
	if err := t.motor.Enable(); err != nil {
		return fmt.Errorf("enable turntable: %w", err)
	}
	if err := t.motor.Rotate(ctx, t.degreesPerStep); err != nil {
		return fmt.Errorf("rotate turntable: %w", err)
	}
	if !t.hold {
		if err := t.motor.Disable(); err != nil {
			return fmt.Errorf("disable turntable: %w", err)
		}
	}
	return nil
}

// Position returns the accumulated rotation in microsteps.
func (t *Turntable) Position() int { return t.motor.Position() }

// Release leaves the motor unpowered.
func (t *Turntable) Release() error {
	return t.motor.Disable()
}
