package motion

import (
	"context"
	"testing"
	"time"

	"github.com/cjeanneret/timelapser/internal/hw/gpio"
	"github.com/cjeanneret/timelapser/internal/hw/stepper"
)

func newMockStepper() *stepper.Stepper {
	return stepper.New(&gpio.MockDriver{}, stepper.Config{
		StepPin:       1,
		DirPin:        2,
		EnablePin:     3,
		StepsPerRev:   200,
		Microstepping: 16,
		StepDelay:     1 * time.Microsecond,
	})
}

func TestTurntable_Advance(t *testing.T) {
	tt := NewTurntable(newMockStepper(), 4.5, false)

	for tp := 1; tp <= 3; tp++ {
		if err := tt.Advance(context.Background(), tp); err != nil {
			t.Fatalf("Advance(%d): %v", tp, err)
		}
	}
	// 4.5° = 40 microsteps at 3200 steps/rev
	if got := tt.Position(); got != 120 {
		t.Errorf("Position() = %d, want 120", got)
	}
}

func TestTurntable_ZeroAngleIsNoop(t *testing.T) {
	tt := NewTurntable(newMockStepper(), 0, true)
	if err := tt.Advance(context.Background(), 1); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if tt.Position() != 0 {
		t.Errorf("Position() = %d, want 0", tt.Position())
	}
}

func TestTurntable_AdvanceCancelled(t *testing.T) {
	tt := NewTurntable(newMockStepper(), 90, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tt.Advance(ctx, 1); err == nil {
		t.Error("expected error for cancelled context, got nil")
	}
}

func TestTurntable_Release(t *testing.T) {
	tt := NewTurntable(newMockStepper(), 10, true)
	if err := tt.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
}
