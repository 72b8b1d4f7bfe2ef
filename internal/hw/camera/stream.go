package camera

import (
	"context"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/cjeanneret/SnapMatch/internal/debug"
)

// LiveStream is the handle to an acquired video feed. A single pump
// goroutine reads frames, keeps a private copy of the latest one and
// presents it to the bound viewport.
type LiveStream struct {
	raw      Stream
	viewport Viewport

	mu     sync.RWMutex
	latest *image.RGBA
	err    error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func newLiveStream(raw Stream, viewport Viewport) *LiveStream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &LiveStream{
		raw:      raw,
		viewport: viewport,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go s.pump(ctx)
	return s
}

func (s *LiveStream) pump(ctx context.Context) {
	defer close(s.done)
	for {
		if ctx.Err() != nil {
			return
		}
		img, release, err := s.raw.Read()
		if err != nil {
			if ctx.Err() == nil {
				debug.Error(err)
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		frame := copyFrame(img)
		if release != nil {
			release()
		}

		s.mu.Lock()
		s.latest = frame
		s.mu.Unlock()
		s.readyOnce.Do(func() {
			b := frame.Bounds()
			debug.Info("Camera: first frame received (%dx%d)", b.Dx(), b.Dy())
			close(s.ready)
		})

		if s.viewport != nil {
			s.viewport.Present(frame)
		}
	}
}

// copyFrame detaches img from the driver's buffer.
func copyFrame(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Ready is closed once the stream delivered its first frame.
func (s *LiveStream) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed once the pump stopped, either because the stream was
// closed or because a read failed. Err reports the failure.
func (s *LiveStream) Done() <-chan struct{} {
	return s.done
}

// NativeSize returns the resolution of the latest frame. ok is false before
// the first frame.
func (s *LiveStream) NativeSize() (width, height int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return 0, 0, false
	}
	b := s.latest.Bounds()
	return b.Dx(), b.Dy(), true
}

// Err returns the error that stopped the pump, if any.
func (s *LiveStream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *LiveStream) latestFrame() (*image.RGBA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, ErrStreamEnded
	}
	if s.latest == nil {
		return nil, ErrNotReady
	}
	return s.latest, nil
}

// Close stops the pump and releases the device.
func (s *LiveStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.raw.Close()
		<-s.done
	})
	return s.closeErr
}
