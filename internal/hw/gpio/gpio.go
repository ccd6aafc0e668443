// Package gpio abstracts the Raspberry Pi header: BCM pins for the light
// switch and the turntable driver, SPI0 for the LED ring.
package gpio

import (
	"sync"

	"github.com/cjeanneret/timelapser/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver is implemented by the go-rpio backend and by MockDriver.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	// OpenSPI claims the SPI0 bus (MOSI on BCM 10) at the given clock.
	OpenSPI(speedHz int) (SPI, error)
	Close() error
}

// SPI is a write-only SPI bus, enough to clock out LED strip data.
type SPI interface {
	Transmit(data []byte) error
	Close() error
}

// NewDriver returns MockDriver when mock is set, the go-rpio driver otherwise.
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return OpenRPi()
}

// MockDriver logs every access and remembers output levels, so a pin reads
// back what was last written. The zero value is ready to use.
type MockDriver struct {
	mu      sync.Mutex
	levels  map[int]Level
	spiSent int
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

func (m *MockDriver) OpenSPI(speedHz int) (SPI, error) {
	debug.Trace("SPI open (mock) at %d Hz", speedHz)
	return &mockSPI{driver: m}, nil
}

// SPIBytes returns how many bytes were sent over mock SPI.
func (m *MockDriver) SPIBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spiSent
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}

type mockSPI struct {
	driver *MockDriver
}

func (s *mockSPI) Transmit(data []byte) error {
	debug.SPI(len(data))
	s.driver.mu.Lock()
	s.driver.spiSent += len(data)
	s.driver.mu.Unlock()
	return nil
}

func (s *mockSPI) Close() error { return nil }
