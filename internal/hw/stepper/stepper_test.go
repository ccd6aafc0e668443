package stepper

import (
	"context"
	"testing"
	"time"

	"github.com/cjeanneret/timelapser/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls []gpioCall
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) OpenSPI(int) (gpio.SPI, error) { return nil, nil }

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) writeCallsForPin(pin int) []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" && c.pin == pin {
			result = append(result, c)
		}
	}
	return result
}

func testConfig() Config {
	return Config{
		StepPin:       17,
		DirPin:        27,
		EnablePin:     5,
		StepsPerRev:   200,
		Microstepping: 16,
		StepDelay:     1 * time.Microsecond,
	}
}

func countPulses(calls []gpioCall) int {
	n := 0
	for _, c := range calls {
		if c.level == gpio.High {
			n++
		}
	}
	return n
}

func TestStepper_MoveStepsForward(t *testing.T) {
	drv := &recordingDriver{}
	s := New(drv, testConfig())
	drv.calls = nil

	if err := s.MoveSteps(context.Background(), 10); err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}

	dir := drv.writeCallsForPin(27)
	if len(dir) != 1 || dir[0].level != gpio.High {
		t.Errorf("dir pin should be set HIGH once, got %v", dir)
	}
	if got := countPulses(drv.writeCallsForPin(17)); got != 10 {
		t.Errorf("expected 10 step pulses, got %d", got)
	}
	if s.Position() != 10 {
		t.Errorf("Position() = %d, want 10", s.Position())
	}
}

func TestStepper_MoveStepsBackward(t *testing.T) {
	drv := &recordingDriver{}
	s := New(drv, testConfig())
	drv.calls = nil

	if err := s.MoveSteps(context.Background(), -5); err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}

	dir := drv.writeCallsForPin(27)
	if len(dir) != 1 || dir[0].level != gpio.Low {
		t.Errorf("dir pin should be set LOW once, got %v", dir)
	}
	if got := countPulses(drv.writeCallsForPin(17)); got != 5 {
		t.Errorf("expected 5 step pulses, got %d", got)
	}
	if s.Position() != -5 {
		t.Errorf("Position() = %d, want -5", s.Position())
	}
}

func TestStepper_MoveStepsZero(t *testing.T) {
	drv := &recordingDriver{}
	s := New(drv, testConfig())
	drv.calls = nil

	if err := s.MoveSteps(context.Background(), 0); err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}
	if len(drv.calls) != 0 {
		t.Errorf("zero steps should produce no GPIO calls, got %d", len(drv.calls))
	}
}

func TestStepper_MoveStepsCancelled(t *testing.T) {
	drv := &recordingDriver{}
	s := New(drv, testConfig())
	drv.calls = nil

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.MoveSteps(ctx, 100); err == nil {
		t.Fatal("expected cancellation error, got nil")
	}
	if s.Position() != 0 {
		t.Errorf("Position() = %d, want 0 after immediate cancel", s.Position())
	}
}

func TestStepper_StepsForDegrees(t *testing.T) {
	s := New(&recordingDriver{}, testConfig())
	cases := []struct {
		deg  float64
		want int
	}{
		{360, 3200},
		{90, 800},
		{-45, -400},
		{0, 0},
		{1, 9}, // 8.888... rounds to 9
	}
	for _, tc := range cases {
		if got := s.StepsForDegrees(tc.deg); got != tc.want {
			t.Errorf("StepsForDegrees(%v) = %d, want %d", tc.deg, got, tc.want)
		}
	}
}

func TestStepper_Rotate(t *testing.T) {
	drv := &recordingDriver{}
	s := New(drv, testConfig())
	drv.calls = nil

	if err := s.Rotate(context.Background(), 1); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if got := countPulses(drv.writeCallsForPin(17)); got != 9 {
		t.Errorf("expected 9 pulses for 1 degree, got %d", got)
	}
}

func TestStepper_EnableDisable(t *testing.T) {
	drv := &recordingDriver{}
	s := New(drv, testConfig())
	drv.calls = nil

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	enableCalls := drv.writeCallsForPin(5)
	if len(enableCalls) != 1 || enableCalls[0].level != gpio.Low {
		t.Errorf("Enable should write LOW to enable pin, got %v", enableCalls)
	}

	drv.calls = nil
	if err := s.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	disableCalls := drv.writeCallsForPin(5)
	if len(disableCalls) != 1 || disableCalls[0].level != gpio.High {
		t.Errorf("Disable should write HIGH to enable pin, got %v", disableCalls)
	}
}

func TestStepper_EnableDisable_NoEnablePin(t *testing.T) {
	drv := &recordingDriver{}
	cfg := testConfig()
	cfg.EnablePin = 0
	s := New(drv, cfg)
	drv.calls = nil

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := s.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if len(drv.calls) != 0 {
		t.Errorf("with EnablePin=0, Enable/Disable should produce no GPIO calls, got %d", len(drv.calls))
	}
}

func TestStepper_DefaultStepDelay(t *testing.T) {
	cfg := testConfig()
	cfg.StepDelay = 0
	s := New(&recordingDriver{}, cfg)
	if s.delay != 1*time.Millisecond {
		t.Errorf("default delay = %v, want 1ms", s.delay)
	}
}

func TestStepper_StepPulsePattern(t *testing.T) {
	drv := &recordingDriver{}
	s := New(drv, testConfig())
	drv.calls = nil

	_ = s.MoveSteps(context.Background(), 1)

	stepCalls := drv.writeCallsForPin(17)
	if len(stepCalls) != 2 {
		t.Fatalf("single step should produce 2 writes on step pin, got %d", len(stepCalls))
	}
	if stepCalls[0].level != gpio.High || stepCalls[1].level != gpio.Low {
		t.Errorf("pulse should be HIGH then LOW, got %v", stepCalls)
	}
}
