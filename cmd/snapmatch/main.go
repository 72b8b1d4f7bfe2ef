package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/SnapMatch/internal/config"
	"github.com/cjeanneret/SnapMatch/internal/debug"
	"github.com/cjeanneret/SnapMatch/internal/hw/camera"
	"github.com/cjeanneret/SnapMatch/internal/hw/gpio"
	"github.com/cjeanneret/SnapMatch/internal/hw/trigger"
	"github.com/cjeanneret/SnapMatch/internal/logic/capture"
	"github.com/cjeanneret/SnapMatch/internal/recognition"
	"github.com/cjeanneret/SnapMatch/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	endpoint := flag.String("endpoint", "", "override recognition endpoint URL")
	policy := flag.String("policy", "", "override concurrent-capture policy (reject or replace)")
	cameraType := flag.String("camera", "", "override camera type (webcam or test_pattern)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (empty values mean "use config default")
	overrides := cliOverrides{Endpoint: *endpoint, Policy: *policy, CameraType: *cameraType}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	if err := run(ctx, cfg, webPort.port(), os.Stdout); err != nil {
		log.Fatalf("snapmatch: %v", err)
	}
}

// run wires the camera, the recognition client and the capture session,
// then serves them through the web page and/or the trigger button. Without
// either it captures a single frame and returns.
func run(ctx context.Context, cfg *config.Config, port int, stdout io.Writer) (err error) {
	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(gpioDriver))

	// Initialize camera
	debug.Step(2, "Initializing camera")
	source, err := newSourceFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init camera: %w", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.PrintStruct("Camera config", cfg.Camera)

	debug.Step(3, "Initializing recognition client")
	client := recognition.NewClient(cfg.Recognition.Endpoint, recognition.WithTimeout(cfg.RecognitionTimeout()))
	debug.Value("Endpoint", client.Endpoint())
	debug.Value("Timeout", cfg.RecognitionTimeout())

	var (
		display     capture.Display
		viewport    camera.Viewport
		broadcaster *web.StatusBroadcaster
		page        *web.PageDisplay
		preview     *web.Preview
	)
	if port > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		page = web.NewPageDisplay(broadcaster, cfg.Capture.Policy)
		preview = web.NewPreview(cfg.Camera.PreviewQuality, cfg.PreviewInterval())
		display, viewport = page, preview
	} else {
		display = newConsoleDisplay(stdout)
	}

	ctrl := camera.NewController(source, viewport)
	defer multierr.AppendInvoke(&err, multierr.Close(ctrl))

	debug.Step(4, "Creating capture session")
	session := capture.NewSession(ctrl, client, display, capture.Options{
		Policy:      cfg.Capture.Policy,
		LabelFormat: cfg.Capture.LabelFormat,
	})
	debug.Value("Policy", session.Policy())
	if page != nil {
		session.OnStateChange(page.SetState)
	}

	var button *trigger.Button
	if cfg.Trigger.Enabled {
		debug.Step(5, "Initializing trigger button")
		button, err = trigger.NewButton(gpioDriver, cfg.Trigger.ButtonPin, cfg.PollInterval(), cfg.Debounce())
		if err != nil {
			return fmt.Errorf("init trigger button: %w", err)
		}
		debug.Value("Button pin", cfg.Trigger.ButtonPin)
		if cfg.Trigger.BusyLEDPin > 0 {
			led, err := trigger.NewBusyLED(gpioDriver, cfg.Trigger.BusyLEDPin)
			if err != nil {
				return fmt.Errorf("init busy LED: %w", err)
			}
			session.OnStateChange(func(s capture.State) { led.Set(s.Busy()) })
			debug.Value("Busy LED pin", cfg.Trigger.BusyLEDPin)
		}
	}

	if port == 0 && button == nil {
		return captureOnce(ctx, session)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(gctx) })
	if button != nil {
		g.Go(func() error {
			return button.Watch(gctx, func() {
				debug.Live("Button: pressed")
				if _, err := session.Trigger(); err != nil {
					debug.Live("Button: %v", err)
				}
			})
		})
	}
	if port > 0 {
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, session.Trigger, page, preview)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	}
	return g.Wait()
}

// captureOnce acquires the camera, runs one cycle and reports a failed
// cycle as an error.
func captureOnce(ctx context.Context, session *capture.Session) error {
	debug.Section("Single capture")
	if err := session.Start(ctx); err != nil {
		return err
	}
	cycle, err := session.Trigger()
	if err != nil {
		return err
	}
	outcome, err := cycle.Wait(ctx)
	session.Wait()
	if err != nil {
		return err
	}
	switch outcome {
	case capture.OutcomeRendered:
	case capture.OutcomeSuperseded:
		return context.Canceled
	default:
		return errors.New(cycle.Result().Text)
	}
	return nil
}

// consoleDisplay renders the display region as lines on a terminal.
type consoleDisplay struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsoleDisplay(w io.Writer) *consoleDisplay {
	return &consoleDisplay{w: w}
}

func (d *consoleDisplay) ShowMatch(r capture.Result) {
	d.println(r.Text)
}

func (d *consoleDisplay) ShowError(r capture.Result) {
	d.println(r.Text)
}

func (d *consoleDisplay) ShowCameraStatus(status string) {
	debug.Info("Camera: %s", status)
}

func (d *consoleDisplay) println(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.w, s)
}

// cliOverrides holds the command-line values that replace config entries.
type cliOverrides struct {
	Endpoint   string
	Policy     string
	CameraType string
}

// validateCLIOverrides checks the non-empty CLI overrides.
// Empty values are ignored (they mean "use config default").
func validateCLIOverrides(o cliOverrides) error {
	if o.Endpoint != "" {
		if err := config.ValidateEndpoint(o.Endpoint); err != nil {
			return err
		}
	}
	if o.Policy != "" {
		if err := config.ValidatePolicy(o.Policy); err != nil {
			return err
		}
	}
	if o.CameraType != "" && o.CameraType != config.CameraWebcam && o.CameraType != config.CameraTestPattern {
		return fmt.Errorf("camera must be %q or %q, got %q", config.CameraWebcam, config.CameraTestPattern, o.CameraType)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-empty override values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.Endpoint != "" {
		cfg.Recognition.Endpoint = o.Endpoint
	}
	if o.Policy != "" {
		cfg.Capture.Policy = o.Policy
	}
	if o.CameraType != "" {
		cfg.Camera.Type = o.CameraType
		if o.CameraType == config.CameraTestPattern {
			if cfg.Camera.WidthPx == 0 {
				cfg.Camera.WidthPx = 640
			}
			if cfg.Camera.HeightPx == 0 {
				cfg.Camera.HeightPx = 480
			}
		}
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newSourceFromConfig selects a camera implementation based on configuration.
func newSourceFromConfig(cfg *config.Config) (camera.Source, error) {
	switch cfg.Camera.Type {
	case config.CameraWebcam:
		return camera.NewWebcam(camera.WebcamConfig{
			DeviceID:  cfg.Camera.Device,
			Width:     cfg.Camera.WidthPx,
			Height:    cfg.Camera.HeightPx,
			FrameRate: cfg.Camera.FrameRate,
			Format:    cfg.Camera.Format,
		}), nil
	case config.CameraTestPattern:
		return camera.NewTestPattern(cfg.Camera.WidthPx, cfg.Camera.HeightPx, cfg.Camera.FrameRate), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
