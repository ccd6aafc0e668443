package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/timelapser/internal/debug"
)

// RPiDriver drives the header through go-rpio's memory-mapped registers.
type RPiDriver struct {
	mu      sync.Mutex
	pins    map[int]rpio.Pin
	spiOpen bool
}

// OpenRPi maps the GPIO registers. Pins only need /dev/gpiomem; SPI needs root.
func OpenRPi() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped successfully")
	return &RPiDriver{pins: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.setup(pin, mode)
	return err
}

// setup configures pin; r.mu must be held.
func (r *RPiDriver) setup(pin int, mode PinMode) (rpio.Pin, error) {
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return p, fmt.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = p
	return p, nil
}

// lookup returns a configured pin, setting it up in mode on first use.
func (r *RPiDriver) lookup(pin int, mode PinMode) (rpio.Pin, error) {
	if p, ok := r.pins[pin]; ok {
		return p, nil
	}
	return r.setup(pin, mode)
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.lookup(pin, Output)
	if err != nil {
		return err
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.lookup(pin, Input)
	if err != nil {
		return Low, err
	}
	return Level(p.Read() == rpio.High), nil
}

// OpenSPI starts SPI0 with chip select 0. Only one handle may be open.
func (r *RPiDriver) OpenSPI(speedHz int) (SPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spiOpen {
		return nil, errors.New("SPI0 already open")
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		return nil, fmt.Errorf("begin SPI0: %w (SPI needs root access to /dev/mem)", err)
	}
	rpio.SpiSpeed(speedHz)
	rpio.SpiChipSelect(0)
	r.spiOpen = true
	debug.Verbose("SPI0 started at %d Hz", speedHz)
	return &rpiSPI{driver: r}, nil
}

func (r *RPiDriver) endSPI() {
	if r.spiOpen {
		rpio.SpiEnd(rpio.Spi0)
		r.spiOpen = false
	}
}

// Close ends SPI, returns every used pin to input and unmaps the registers.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endSPI()
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}
	return rpio.Close()
}

type rpiSPI struct {
	driver *RPiDriver
}

func (s *rpiSPI) Transmit(data []byte) error {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	if !s.driver.spiOpen {
		return errors.New("SPI0 is closed")
	}
	debug.SPI(len(data))
	// SpiTransmit overwrites data with the bytes read back.
	rpio.SpiTransmit(data...)
	return nil
}

func (s *rpiSPI) Close() error {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	s.driver.endSPI()
	return nil
}
