package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/timelapser/internal/logic/schedule"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// CameraConfig describes the camera backend and its fixed still settings.
type CameraConfig struct {
	Type             string  `yaml:"type" toml:"type"`                             // "rpicam", "opencv" or "mock"
	Binary           string  `yaml:"binary" toml:"binary"`                         // rpicam: still tool, default rpicam-still
	Index            int     `yaml:"index" toml:"index"`                           // rpicam: camera index
	Device           string  `yaml:"device" toml:"device"`                         // opencv: device id or path, default "0"
	Width            int     `yaml:"width" toml:"width"`                           // 0 = sensor default
	Height           int     `yaml:"height" toml:"height"`                         // 0 = sensor default
	Quality          int     `yaml:"quality" toml:"quality"`                       // JPEG quality 1-100
	Encoding         string  `yaml:"encoding" toml:"encoding"`                     // png, jpg, bmp, tiff
	AutofocusMode    string  `yaml:"autofocus_mode" toml:"autofocus_mode"`         // manual, auto, continuous
	LensPosition     float64 `yaml:"lens_position" toml:"lens_position"`           // dioptres, manual focus only
	CaptureTimeoutMs int     `yaml:"capture_timeout_ms" toml:"capture_timeout_ms"` // per still
}

// ColorConfig is an RGB triple.
type ColorConfig struct {
	Red   uint8 `yaml:"red" toml:"red"`
	Green uint8 `yaml:"green" toml:"green"`
	Blue  uint8 `yaml:"blue" toml:"blue"`
}

// LightConfig describes the ring light.
type LightConfig struct {
	Type         string      `yaml:"type" toml:"type"`               // "neopixel", "gpio" or "none"
	Pin          int         `yaml:"pin" toml:"pin"`                 // gpio: BCM pin of the switch
	ActiveLow    bool        `yaml:"active_low" toml:"active_low"`   // gpio: LOW turns the light on
	PixelCount   int         `yaml:"pixel_count" toml:"pixel_count"` // neopixel: LEDs on the ring (SPI0 MOSI)
	Color        ColorConfig `yaml:"color" toml:"color"`
	Brightness   float64     `yaml:"brightness" toml:"brightness"` // 0-1
	StartupFlash bool        `yaml:"startup_flash" toml:"startup_flash"`
	FlashOnMs    int         `yaml:"flash_on_ms" toml:"flash_on_ms"`
	FlashOffMs   int         `yaml:"flash_off_ms" toml:"flash_off_ms"`
}

// TurntableConfig describes the optional stepper turntable (A4988).
type TurntableConfig struct {
	Enabled         bool    `yaml:"enabled" toml:"enabled"`
	StepPin         int     `yaml:"step_pin" toml:"step_pin"`
	DirPin          int     `yaml:"dir_pin" toml:"dir_pin"`
	EnablePin       int     `yaml:"enable_pin" toml:"enable_pin"` // 0 = not used. Active LOW.
	StepsPerRev     int     `yaml:"steps_per_rev" toml:"steps_per_rev"`
	Microstepping   int     `yaml:"microstepping" toml:"microstepping"`
	MoveSpeedMs     int     `yaml:"move_speed_ms" toml:"move_speed_ms"` // delay between motor steps
	DegreesPerFrame float64 `yaml:"degrees_per_frame" toml:"degrees_per_frame"`
	Hold            bool    `yaml:"hold" toml:"hold"` // keep the coils powered between moves
}

// TimelapseConfig holds the run defaults. Command line flags override them.
type TimelapseConfig struct {
	Units          string `yaml:"units" toml:"units"` // s, m, h, d
	Duration       int    `yaml:"duration" toml:"duration"`
	Samples        int    `yaml:"samples" toml:"samples"`
	Path           string `yaml:"path" toml:"path"`
	Name           string `yaml:"name" toml:"name"`
	SleepAfterLast *bool  `yaml:"sleep_after_last" toml:"sleep_after_last"` // default true
	AllowBurst     *bool  `yaml:"allow_burst" toml:"allow_burst"`           // default true
	AllowEmpty     *bool  `yaml:"allow_empty" toml:"allow_empty"`           // default true
	MinFreeMB      int    `yaml:"min_free_mb" toml:"min_free_mb"`           // 0 = no check
}

// JournalConfig enables the SQLite run journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"` // default {timelapse.path}/timelapser.db
}

// WebConfig configures the status server. Port 0 disables it.
type WebConfig struct {
	Port             int     `yaml:"port" toml:"port"`
	LatestFrameRate  float64 `yaml:"latest_frame_rate" toml:"latest_frame_rate"` // requests per second
	LatestFrameBurst int     `yaml:"latest_frame_burst" toml:"latest_frame_burst"`
}

// DefaultsConfig contains process-wide settings.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level" toml:"debug_level"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio" toml:"mock_gpio"`     // mock GPIO and camera (true=dev/test)
}

// Config aggregates all application configuration.
type Config struct {
	Camera    CameraConfig    `yaml:"camera" toml:"camera"`
	Light     LightConfig     `yaml:"light" toml:"light"`
	Turntable TurntableConfig `yaml:"turntable" toml:"turntable"`
	Timelapse TimelapseConfig `yaml:"timelapse" toml:"timelapse"`
	Journal   JournalConfig   `yaml:"journal" toml:"journal"`
	Web       WebConfig       `yaml:"web" toml:"web"`
	Defaults  DefaultsConfig  `yaml:"defaults" toml:"defaults"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Camera: CameraConfig{Type: "rpicam"},
		Light:  LightConfig{Type: "neopixel"},
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// ValidateConfigPath rejects empty paths, parent traversal and unsupported
// extensions before anything is read.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if _, err := formatOf(path); err != nil {
		return err
	}
	return nil
}

func formatOf(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	default:
		return "", fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .toml)", ext)
	}
}

// Load reads a YAML or TOML file, chosen by extension, and returns the
// validated configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	format, _ := formatOf(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileBytes)
	}

	var cfg Config
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	case "toml":
		if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("unmarshal toml: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	// Camera
	switch c.Camera.Type {
	case "":
		return errors.New("camera.type is required")
	case "rpicam", "opencv", "mock":
	default:
		return fmt.Errorf("camera.type %q unknown (rpicam, opencv, mock)", c.Camera.Type)
	}
	if c.Camera.Encoding == "" {
		c.Camera.Encoding = "png"
	}
	if c.Camera.Quality == 0 {
		c.Camera.Quality = 93
	}
	if c.Camera.Quality < 1 || c.Camera.Quality > 100 {
		return fmt.Errorf("camera.quality must be between 1 and 100, got %d", c.Camera.Quality)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("camera resolution must be >= 0, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.AutofocusMode == "" {
		c.Camera.AutofocusMode = "manual"
	}
	if c.Camera.CaptureTimeoutMs <= 0 {
		c.Camera.CaptureTimeoutMs = 30000
	}

	// Light
	switch c.Light.Type {
	case "":
		c.Light.Type = "none"
	case "neopixel", "gpio", "none":
	default:
		return fmt.Errorf("light.type %q unknown (neopixel, gpio, none)", c.Light.Type)
	}
	if c.Light.Pin <= 0 {
		c.Light.Pin = 18
	}
	if c.Light.PixelCount <= 0 {
		c.Light.PixelCount = 8
	}
	if c.Light.Color == (ColorConfig{}) {
		c.Light.Color = ColorConfig{Red: 255, Green: 255, Blue: 255}
	}
	if c.Light.Brightness <= 0 {
		c.Light.Brightness = 1
	}
	if c.Light.Brightness > 1 {
		return fmt.Errorf("light.brightness must be between 0 and 1, got %.2f", c.Light.Brightness)
	}
	if c.Light.FlashOnMs <= 0 {
		c.Light.FlashOnMs = 1500
	}
	if c.Light.FlashOffMs <= 0 {
		c.Light.FlashOffMs = 1500
	}

	// Turntable
	if c.Turntable.Enabled {
		if c.Turntable.StepPin <= 0 || c.Turntable.DirPin <= 0 {
			return errors.New("turntable.step_pin and turntable.dir_pin are required when the turntable is enabled")
		}
	}
	if c.Turntable.StepsPerRev <= 0 {
		c.Turntable.StepsPerRev = 200
	}
	if c.Turntable.Microstepping <= 0 {
		c.Turntable.Microstepping = 16
	}
	if c.Turntable.MoveSpeedMs <= 0 {
		c.Turntable.MoveSpeedMs = 2
	}

	// Timelapse
	if c.Timelapse.Units == "" {
		c.Timelapse.Units = "s"
	}
	if c.Timelapse.Duration < 0 {
		return fmt.Errorf("timelapse.duration must be >= 0, got %d", c.Timelapse.Duration)
	}
	if c.Timelapse.Samples < 0 {
		return fmt.Errorf("timelapse.samples must be >= 0, got %d", c.Timelapse.Samples)
	}
	if c.Timelapse.Path == "" {
		c.Timelapse.Path = "Images"
	}
	if c.Timelapse.MinFreeMB < 0 {
		return fmt.Errorf("timelapse.min_free_mb must be >= 0, got %d", c.Timelapse.MinFreeMB)
	}
	c.Timelapse.SleepAfterLast = orTrue(c.Timelapse.SleepAfterLast)
	c.Timelapse.AllowBurst = orTrue(c.Timelapse.AllowBurst)
	c.Timelapse.AllowEmpty = orTrue(c.Timelapse.AllowEmpty)

	// Web
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be between 0 and 65535, got %d", c.Web.Port)
	}
	if c.Web.LatestFrameRate <= 0 {
		c.Web.LatestFrameRate = 1
	}
	if c.Web.LatestFrameBurst <= 0 {
		c.Web.LatestFrameBurst = 3
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func orTrue(b *bool) *bool {
	if b != nil {
		return b
	}
	v := true
	return &v
}

// RunParameters builds the immutable run parameters from the timelapse section.
func (c *Config) RunParameters() schedule.RunParameters {
	return schedule.RunParameters{
		DurationSeconds: schedule.ToSeconds(c.Timelapse.Duration, c.Timelapse.Units),
		SampleCount:     c.Timelapse.Samples,
		OutputRoot:      c.Timelapse.Path,
		RunName:         c.Timelapse.Name,
		SleepAfterLast:  c.Timelapse.SleepAfterLast == nil || *c.Timelapse.SleepAfterLast,
		AllowBurst:      c.Timelapse.AllowBurst == nil || *c.Timelapse.AllowBurst,
		AllowEmpty:      c.Timelapse.AllowEmpty == nil || *c.Timelapse.AllowEmpty,
	}
}

// CaptureTimeout returns the per-still timeout.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.CaptureTimeoutMs) * time.Millisecond
}

// StepDelay returns the delay between turntable motor steps.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Turntable.MoveSpeedMs) * time.Millisecond
}

// FlashOn returns how long the startup flash stays lit.
func (c *Config) FlashOn() time.Duration {
	return time.Duration(c.Light.FlashOnMs) * time.Millisecond
}

// FlashOff returns the dark pause after the startup flash.
func (c *Config) FlashOff() time.Duration {
	return time.Duration(c.Light.FlashOffMs) * time.Millisecond
}

// MinFreeBytes returns the free-space threshold checked before a run.
func (c *Config) MinFreeBytes() uint64 {
	return uint64(c.Timelapse.MinFreeMB) << 20
}

// JournalPath returns the SQLite file used by the run journal.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.Timelapse.Path, "timelapser.db")
}
