package camera

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// DataURLPrefix starts every data URL produced by CapturedFrame.
const DataURLPrefix = "data:image/png;base64,"

// CapturedFrame is one rasterized frame encoded as PNG. It is immutable.
type CapturedFrame struct {
	data       []byte
	width      int
	height     int
	capturedAt time.Time
}

// NewCapturedFrame draws img onto a canvas of exactly its own pixel size and
// PNG-encodes the result.
func NewCapturedFrame(img image.Image) (*CapturedFrame, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrNotReady
	}
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	return &CapturedFrame{
		data:       buf.Bytes(),
		width:      b.Dx(),
		height:     b.Dy(),
		capturedAt: time.Now(),
	}, nil
}

// Width returns the frame width in pixels.
func (f *CapturedFrame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f *CapturedFrame) Height() int { return f.height }

// CapturedAt returns when the frame was rasterized.
func (f *CapturedFrame) CapturedAt() time.Time { return f.capturedAt }

// Bytes returns a copy of the PNG encoding.
func (f *CapturedFrame) Bytes() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// Len returns the size of the PNG encoding in bytes.
func (f *CapturedFrame) Len() int { return len(f.data) }

// DataURL returns the frame as a text-embeddable data URL.
func (f *CapturedFrame) DataURL() string {
	return DataURLPrefix + base64.StdEncoding.EncodeToString(f.data)
}

// DecodeDataURL parses a PNG data URL back into an image.
func DecodeDataURL(s string) (image.Image, error) {
	if !strings.HasPrefix(s, DataURLPrefix) {
		return nil, errors.Errorf("not a PNG data URL: %.32q", s)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, DataURLPrefix))
	if err != nil {
		return nil, errors.Wrap(err, "decode base64")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode png")
	}
	return img, nil
}
