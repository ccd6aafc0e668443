package main

import (
	"fmt"
	"strconv"

	"github.com/cjeanneret/timelapser/internal/config"
	"github.com/cjeanneret/timelapser/internal/hw/camera"
	"github.com/cjeanneret/timelapser/internal/hw/gpio"
	"github.com/cjeanneret/timelapser/internal/hw/light"
	"github.com/cjeanneret/timelapser/internal/hw/stepper"
	"github.com/cjeanneret/timelapser/internal/imaging"
	"github.com/cjeanneret/timelapser/internal/logic/illumination"
	"github.com/cjeanneret/timelapser/internal/logic/motion"
)

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(cfg *config.Config) (camera.Device, error) {
	switch cfg.Camera.Type {
	case "rpicam":
		return camera.NewRPiCam(cfg.Camera.Binary, cfg.Camera.Index), nil
	case "opencv":
		id := cfg.Camera.Device
		if id == "" {
			id = "0"
		}
		return camera.NewOpenCV(id)
	case "mock":
		return camera.NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// stillConfig converts the camera section into the per-session still settings.
func stillConfig(cfg *config.Config) (camera.StillConfig, error) {
	format, err := imaging.ParseFormat(cfg.Camera.Encoding)
	if err != nil {
		return camera.StillConfig{}, err
	}
	return camera.StillConfig{
		Width:         cfg.Camera.Width,
		Height:        cfg.Camera.Height,
		Quality:       cfg.Camera.Quality,
		Format:        format,
		AutofocusMode: cfg.Camera.AutofocusMode,
		LensPosition:  cfg.Camera.LensPosition,
		Timeout:       cfg.CaptureTimeout(),
	}, nil
}

// newLightFromConfig returns the illumination controller for the configured source.
func newLightFromConfig(g gpio.Driver, cfg *config.Config, opts ...illumination.Option) (*illumination.Controller, error) {
	var (
		src light.Source
		err error
	)
	switch cfg.Light.Type {
	case "neopixel":
		src, err = light.NewNeoPixel(g, cfg.Light.PixelCount)
	case "gpio":
		src, err = light.NewSwitched(g, cfg.Light.Pin, cfg.Light.ActiveLow)
	case "none":
		src = light.None{}
	default:
		return nil, fmt.Errorf("unsupported light type: %s", cfg.Light.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s light: %w", cfg.Light.Type, err)
	}
	c := cfg.Light.Color
	return illumination.New(src, light.Color{Red: c.Red, Green: c.Green, Blue: c.Blue}, cfg.Light.Brightness, opts...), nil
}

// needsGPIO reports whether any configured peripheral sits on the header.
func needsGPIO(cfg *config.Config) bool {
	switch cfg.Light.Type {
	case "neopixel", "gpio":
		return true
	}
	return cfg.Turntable.Enabled
}

// newTurntableFromConfig returns nil when the turntable is disabled.
func newTurntableFromConfig(g gpio.Driver, cfg *config.Config) *motion.Turntable {
	t := cfg.Turntable
	if !t.Enabled {
		return nil
	}
	m := stepper.New(g, stepper.Config{
		StepPin:       t.StepPin,
		DirPin:        t.DirPin,
		EnablePin:     t.EnablePin,
		StepsPerRev:   t.StepsPerRev,
		Microstepping: t.Microstepping,
		StepDelay:     cfg.StepDelay(),
	})
	return motion.NewTurntable(m, t.DegreesPerFrame, t.Hold)
}

func webAddr(port int) string { return ":" + strconv.Itoa(port) }
