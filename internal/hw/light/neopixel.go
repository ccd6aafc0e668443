package light

import (
	"fmt"

	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/hw/gpio"
)

// NeoPixelSPIHz clocks three SPI bits per WS2812 bit, giving the 800 kHz
// data rate the LEDs expect.
const NeoPixelSPIHz = 2_400_000

// resetBytes of low output latch the frame (>= 50µs at 2.4 MHz).
const resetBytes = 24

// NeoPixel drives a WS2812 ring whose data line is wired to SPI0 MOSI (BCM 10).
type NeoPixel struct {
	spi    gpio.SPI
	pixels int
	buf    []byte
}

// NewNeoPixel opens SPI on g and blanks the ring.
func NewNeoPixel(g gpio.Driver, pixels int) (*NeoPixel, error) {
	if pixels <= 0 {
		return nil, fmt.Errorf("neopixel: pixel count must be > 0, got %d", pixels)
	}
	spi, err := g.OpenSPI(NeoPixelSPIHz)
	if err != nil {
		return nil, fmt.Errorf("neopixel: %w", err)
	}
	n := &NeoPixel{
		spi:    spi,
		pixels: pixels,
		buf:    make([]byte, 0, pixels*9+resetBytes),
	}
	if err := n.Fill(Black); err != nil {
		_ = spi.Close()
		return nil, err
	}
	return n, nil
}

func (n *NeoPixel) Fill(c Color) error {
	debug.Verbose("Light: filling %d pixels with %+v", n.pixels, c)
	n.buf = encodeWS2812(n.buf[:0], c, n.pixels)
	if err := n.spi.Transmit(n.buf); err != nil {
		return fmt.Errorf("neopixel: transmit: %w", err)
	}
	return nil
}

// Close blanks the ring and releases the SPI bus.
func (n *NeoPixel) Close() error {
	fillErr := n.Fill(Black)
	if err := n.spi.Close(); err != nil {
		return fmt.Errorf("neopixel: close spi: %w", err)
	}
	return fillErr
}

// encodeWS2812 appends count copies of c in GRB order, every data bit
// expanded to 110 (one) or 100 (zero), followed by the reset gap.
func encodeWS2812(dst []byte, c Color, count int) []byte {
	var px [9]byte
	for i, b := range [3]byte{c.Green, c.Red, c.Blue} {
		var bits uint32
		for j := 7; j >= 0; j-- {
			bits <<= 3
			if b&(1<<uint(j)) != 0 {
				bits |= 0b110
			} else {
				bits |= 0b100
			}
		}
		px[i*3] = byte(bits >> 16)
		px[i*3+1] = byte(bits >> 8)
		px[i*3+2] = byte(bits)
	}
	for i := 0; i < count; i++ {
		dst = append(dst, px[:]...)
	}
	for i := 0; i < resetBytes; i++ {
		dst = append(dst, 0)
	}
	return dst
}
