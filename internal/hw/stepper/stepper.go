package stepper

import (
	"context"
	"math"
	"time"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/hw/gpio"
)

// Config holds the hardware configuration for the turntable motor (A4988 driver).
type Config struct {
	StepPin       int
	DirPin        int
	EnablePin     int // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	StepsPerRev   int
	Microstepping int
	StepDelay     time.Duration // delay per half-cycle of STEP pulse. Total step = 2*StepDelay.
}

// Stepper moves a stepper motor and keeps track of its position in microsteps.
type Stepper struct {
	gpio     gpio.Driver
	cfg      Config
	delay    time.Duration
	position int
}

// New configures the pins and enables the driver.
// cfg.StepDelay defaults to 1ms when zero.
func New(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	delay := cfg.StepDelay
	if delay <= 0 {
		delay = 1 * time.Millisecond
	}
	if cfg.Microstepping <= 0 {
		cfg.Microstepping = 1
	}

	s := &Stepper{gpio: g, cfg: cfg, delay: delay}

	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.Low)
	}
	return s
}

// StepsForDegrees converts an angle to microsteps, rounded to the nearest step.
func (s *Stepper) StepsForDegrees(deg float64) int {
	perRev := float64(s.cfg.StepsPerRev * s.cfg.Microstepping)
	return int(math.Round(deg * perRev / 360.0))
}

// Position returns the accumulated position in microsteps.
func (s *Stepper) Position() int { return s.position }

// Rotate turns the motor by deg degrees (negative = backward).
func (s *Stepper) Rotate(ctx context.Context, deg float64) error {
	return s.MoveSteps(ctx, s.StepsForDegrees(deg))
}

// MoveSteps moves the motor by a number of steps (positive or negative).
// It stops early, leaving Position accurate, when ctx is cancelled.
func (s *Stepper) MoveSteps(ctx context.Context, steps int) error {
	if steps == 0 {
		return nil
	}

	dirLevel, sign, direction := gpio.High, 1, "forward"
	if steps < 0 {
		dirLevel, sign, direction = gpio.Low, -1, "backward"
		steps = -steps
	}

	debug.Printf("Stepper: moving %d steps (%s) on pin %d", steps, direction, s.cfg.StepPin)

	if err := s.gpio.WritePin(s.cfg.DirPin, dirLevel); err != nil {
		return err
	}

	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.stepPulse(); err != nil {
			return err
		}
		s.position += sign
	}
	return nil
}

func (s *Stepper) stepPulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(s.delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}

// Enable turns on the motor driver (A4988 ENABLE=LOW). Motor holds position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (A4988 ENABLE=HIGH). The turntable
// freewheels, which removes coil vibration during long exposures.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
