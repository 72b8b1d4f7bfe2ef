package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"sync"

	"github.com/cjeanneret/SnapMatch/internal/debug"
)

// Source is a permission-gated camera provider, regardless of how the
// device is reached (V4L2, AVFoundation, synthetic, etc.).
type Source interface {
	// Open asks the host for video access and starts the device.
	Open(ctx context.Context) (Stream, error)
}

// Stream delivers raw frames from an opened source.
// The image returned by Read is only valid until release is called.
type Stream interface {
	Read() (img image.Image, release func(), err error)
	Close() error
}

// Viewport is the surface a live stream is bound to so the user sees a preview.
type Viewport interface {
	Present(img image.Image)
}

// ErrNotReady is returned when a frame is requested before the stream delivered one.
var ErrNotReady = errors.New("camera: stream has not delivered a frame yet")

// ErrStreamEnded is returned when the stream stopped delivering frames.
var ErrStreamEnded = errors.New("camera: stream ended")

// AcquisitionReason classifies an AcquisitionError.
type AcquisitionReason string

const (
	ReasonDenied      AcquisitionReason = "denied"      // the host refused video access
	ReasonUnavailable AcquisitionReason = "unavailable" // no usable device
)

// AcquisitionError reports that the camera could not be acquired.
type AcquisitionError struct {
	Reason AcquisitionReason
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("camera %s: %v", e.Reason, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// newAcquisitionError classifies err as a permission denial or a missing device.
func newAcquisitionError(err error) *AcquisitionError {
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr
	}
	reason := ReasonUnavailable
	if errors.Is(err, fs.ErrPermission) {
		reason = ReasonDenied
	}
	return &AcquisitionError{Reason: reason, Err: err}
}

// Controller owns the live stream: it acquires it once, binds it to the
// viewport and rasterizes frames on demand.
type Controller struct {
	source   Source
	viewport Viewport

	mu        sync.Mutex
	requested bool
	stream    *LiveStream
	err       error
}

// NewController creates a controller for src. viewport may be nil.
func NewController(src Source, viewport Viewport) *Controller {
	return &Controller{source: src, viewport: viewport}
}

// RequestStream acquires the camera. Acquisition is attempted exactly once:
// later calls return the same handle or the same *AcquisitionError.
func (c *Controller) RequestStream(ctx context.Context) (*LiveStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.requested {
		return c.stream, c.err
	}
	c.requested = true

	debug.Live("Camera: requesting video access")
	raw, err := c.source.Open(ctx)
	if err != nil {
		c.err = newAcquisitionError(err)
		debug.Error(c.err)
		return nil, c.err
	}

	c.stream = newLiveStream(raw, c.viewport)
	debug.Info("Camera: stream acquired")
	return c.stream, nil
}

// CaptureFrame rasterizes the current contents of the stream at its native
// resolution and encodes them as PNG.
func (c *Controller) CaptureFrame(s *LiveStream) (*CapturedFrame, error) {
	if s == nil {
		return nil, ErrNotReady
	}
	img, err := s.latestFrame()
	if err != nil {
		return nil, err
	}
	frame, err := NewCapturedFrame(img)
	if err != nil {
		return nil, err
	}
	debug.Frame(frame.Width(), frame.Height(), len(frame.data))
	return frame, nil
}

// Close releases the stream, if one was acquired.
func (c *Controller) Close() error {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
