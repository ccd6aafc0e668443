package light

import (
	"fmt"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/hw/gpio"
)

// Switched drives a plain white LED ring through a MOSFET or relay on one
// GPIO pin. Any non-black colour turns it on.
type Switched struct {
	gpio      gpio.Driver
	pin       int
	activeLow bool
}

// NewSwitched configures pin as an output and leaves the light off.
func NewSwitched(g gpio.Driver, pin int, activeLow bool) (*Switched, error) {
	s := &Switched{gpio: g, pin: pin, activeLow: activeLow}
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup light pin %d: %w", pin, err)
	}
	if err := s.Fill(Black); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Switched) Fill(c Color) error {
	on := !c.IsOff()
	level := gpio.Level(on)
	if s.activeLow {
		level = !level
	}
	debug.Verbose("Light: pin %d -> on=%v", s.pin, on)
	if err := s.gpio.WritePin(s.pin, level); err != nil {
		return fmt.Errorf("write light pin %d: %w", s.pin, err)
	}
	return nil
}

// Close switches the light off. The GPIO driver itself is closed by its owner.
func (s *Switched) Close() error {
	return s.Fill(Black)
}
