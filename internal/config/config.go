package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// Camera types understood by the application.
const (
	CameraWebcam      = "webcam"
	CameraTestPattern = "test_pattern"
)

// Concurrent-capture policies.
const (
	PolicyReject  = "reject"  // refuse a new capture while one is in flight
	PolicyReplace = "replace" // cancel the in-flight capture and start over
)

// CameraConfig describes the video source.
// Type selects a concrete implementation ("webcam" or "test_pattern").
type CameraConfig struct {
	Type           string  `yaml:"type"`
	Device         string  `yaml:"device"`          // device ID; empty = first camera found
	WidthPx        int     `yaml:"width_px"`        // requested width, 0 = driver choice
	HeightPx       int     `yaml:"height_px"`       // requested height, 0 = driver choice
	FrameRate      float64 `yaml:"frame_rate"`      // requested FPS, 0 = driver choice
	Format         string  `yaml:"format"`          // frame format, empty = any
	PreviewQuality int     `yaml:"preview_quality"` // JPEG quality of the preview stream (1-100)
	PreviewFPS     int     `yaml:"preview_fps"`     // preview frames per second sent to each viewer
}

// RecognitionConfig locates the remote recognition endpoint.
type RecognitionConfig struct {
	Endpoint  string `yaml:"endpoint"`   // e.g. http://localhost:5001/capture
	TimeoutMs int    `yaml:"timeout_ms"` // bound on one submission round-trip
}

// CaptureConfig tunes the capture cycle.
type CaptureConfig struct {
	Policy      string `yaml:"policy"`       // "reject" or "replace"
	LabelFormat string `yaml:"label_format"` // fmt format with one %s for the match label
}

// TriggerConfig describes the optional physical capture button.
type TriggerConfig struct {
	Enabled        bool `yaml:"enabled"`
	ButtonPin      int  `yaml:"button_pin"`       // BCM pin, active LOW (pull-up)
	BusyLEDPin     int  `yaml:"busy_led_pin"`     // BCM pin lit while a capture is in flight. 0 = not used.
	PollIntervalMs int  `yaml:"poll_interval_ms"` // button sampling period
	DebounceMs     int  `yaml:"debounce_ms"`      // minimum time between two presses
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Capture     CaptureConfig     `yaml:"capture"`
	Trigger     TriggerConfig     `yaml:"trigger"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file directly inside a
// "configs" directory, after cleaning.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	switch c.Camera.Type {
	case "":
		return fmt.Errorf("camera.type is required")
	case CameraWebcam, CameraTestPattern:
	default:
		return fmt.Errorf("unsupported camera.type %q", c.Camera.Type)
	}
	if c.Camera.WidthPx < 0 || c.Camera.HeightPx < 0 {
		return fmt.Errorf("camera width_px/height_px must be >= 0, got %dx%d", c.Camera.WidthPx, c.Camera.HeightPx)
	}
	if c.Camera.FrameRate < 0 {
		return fmt.Errorf("camera.frame_rate must be >= 0, got %.2f", c.Camera.FrameRate)
	}
	if c.Camera.Type == CameraTestPattern {
		if c.Camera.WidthPx == 0 {
			c.Camera.WidthPx = 640
		}
		if c.Camera.HeightPx == 0 {
			c.Camera.HeightPx = 480
		}
	}
	if c.Camera.PreviewQuality == 0 {
		c.Camera.PreviewQuality = 75
	}
	if c.Camera.PreviewQuality < 1 || c.Camera.PreviewQuality > 100 {
		return fmt.Errorf("camera.preview_quality must be between 1 and 100, got %d", c.Camera.PreviewQuality)
	}
	if c.Camera.PreviewFPS <= 0 {
		c.Camera.PreviewFPS = 10
	}

	if c.Recognition.Endpoint == "" {
		return fmt.Errorf("recognition.endpoint is required")
	}
	if err := ValidateEndpoint(c.Recognition.Endpoint); err != nil {
		return err
	}
	if c.Recognition.TimeoutMs <= 0 {
		c.Recognition.TimeoutMs = 20000 // 20s
	}

	if c.Capture.Policy == "" {
		c.Capture.Policy = PolicyReject
	}
	if err := ValidatePolicy(c.Capture.Policy); err != nil {
		return err
	}
	if c.Capture.LabelFormat == "" {
		c.Capture.LabelFormat = "Matched Character: %s"
	}
	if strings.Count(c.Capture.LabelFormat, "%s") != 1 {
		return fmt.Errorf("capture.label_format must contain exactly one %%s, got %q", c.Capture.LabelFormat)
	}

	if c.Trigger.Enabled && c.Trigger.ButtonPin <= 0 {
		return fmt.Errorf("trigger.button_pin is required when the trigger is enabled")
	}
	if c.Trigger.PollIntervalMs <= 0 {
		c.Trigger.PollIntervalMs = 20
	}
	if c.Trigger.DebounceMs <= 0 {
		c.Trigger.DebounceMs = 250
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// ValidateEndpoint checks that s is an absolute http(s) URL.
func ValidateEndpoint(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("recognition.endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("recognition.endpoint must be http or https, got %q", s)
	}
	if u.Host == "" {
		return fmt.Errorf("recognition.endpoint has no host: %q", s)
	}
	return nil
}

// ValidatePolicy checks a concurrent-capture policy name.
func ValidatePolicy(p string) error {
	if p != PolicyReject && p != PolicyReplace {
		return fmt.Errorf("capture.policy must be %q or %q, got %q", PolicyReject, PolicyReplace, p)
	}
	return nil
}

// RecognitionTimeout returns the bound on one submission round-trip.
func (c *Config) RecognitionTimeout() time.Duration {
	return time.Duration(c.Recognition.TimeoutMs) * time.Millisecond
}

// PreviewInterval returns the delay between two preview frames.
func (c *Config) PreviewInterval() time.Duration {
	return time.Second / time.Duration(c.Camera.PreviewFPS)
}

// PollInterval returns the trigger button sampling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trigger.PollIntervalMs) * time.Millisecond
}

// Debounce returns the minimum time between two button presses.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Trigger.DebounceMs) * time.Millisecond
}
