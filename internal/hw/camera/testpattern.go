package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"time"
)

// TestPattern is a synthetic Source for machines without a camera: moving
// color bars at a fixed resolution and frame rate.
type TestPattern struct {
	width  int
	height int
	period time.Duration
}

// NewTestPattern returns a width x height pattern delivered at fps frames per second.
func NewTestPattern(width, height int, fps float64) *TestPattern {
	if fps <= 0 {
		fps = 30
	}
	return &TestPattern{
		width:  width,
		height: height,
		period: time.Duration(float64(time.Second) / fps),
	}
}

// Open starts the pattern. It never fails unless ctx is already done.
func (p *TestPattern) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &patternStream{
		pattern: p,
		ticker:  time.NewTicker(p.period),
		closed:  make(chan struct{}),
	}, nil
}

var errPatternClosed = errors.New("test pattern closed")

var bars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

type patternStream struct {
	pattern *TestPattern
	ticker  *time.Ticker
	n       int

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *patternStream) Read() (image.Image, func(), error) {
	select {
	case <-s.closed:
		return nil, nil, errPatternClosed
	case <-s.ticker.C:
	}

	w, h := s.pattern.width, s.pattern.height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	barWidth := w/len(bars) + 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, bars[((x+s.n)/barWidth)%len(bars)])
		}
	}
	s.n += 2
	return img, func() {}, nil
}

func (s *patternStream) Close() error {
	s.closeOnce.Do(func() {
		s.ticker.Stop()
		close(s.closed)
	})
	return nil
}
