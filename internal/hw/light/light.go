package light

// Color is an RGB triple sent to the light.
type Color struct {
	Red   uint8
	Green uint8
	Blue  uint8
}

var (
	White = Color{Red: 255, Green: 255, Blue: 255}
	Black = Color{}
)

// Scale returns c with every channel multiplied by brightness (clamped to 0..1).
func (c Color) Scale(brightness float64) Color {
	if brightness >= 1 {
		return c
	}
	if brightness <= 0 {
		return Black
	}
	return Color{
		Red:   uint8(float64(c.Red) * brightness),
		Green: uint8(float64(c.Green) * brightness),
		Blue:  uint8(float64(c.Blue) * brightness),
	}
}

// IsOff reports whether c emits no light.
func (c Color) IsOff() bool { return c == Black }

// Source is the light driver consumed by the illumination controller.
// Fill sets every LED to c and returns once the command has been issued.
type Source interface {
	Fill(c Color) error
	Close() error
}

// None is a Source for rigs without a light. Every call is a no-op.
type None struct{}

func (None) Fill(Color) error { return nil }
func (None) Close() error     { return nil }
