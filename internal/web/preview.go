package web

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/cjeanneret/SnapMatch/internal/debug"
)

// Preview is the viewport the live stream is bound to. It keeps the latest
// frame and serves it to browsers as a multipart MJPEG stream.
type Preview struct {
	quality  int
	interval time.Duration

	mu     sync.Mutex
	latest image.Image
	seq    uint64
}

// NewPreview creates a viewport that sends at most one JPEG of the given
// quality per interval to each viewer.
func NewPreview(quality int, interval time.Duration) *Preview {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Preview{quality: quality, interval: interval}
}

// Present implements camera.Viewport. img must not be modified afterwards.
func (p *Preview) Present(img image.Image) {
	p.mu.Lock()
	p.latest = img
	p.seq++
	p.mu.Unlock()
}

// latestFrame returns the last presented frame and its sequence number.
func (p *Preview) latestFrame() (image.Image, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.seq
}

// Snapshot encodes the latest frame as JPEG. ok is false before the first frame.
func (p *Preview) Snapshot() ([]byte, bool, error) {
	img, _ := p.latestFrame()
	if img == nil {
		return nil, false, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

// ServeHTTP streams frames until the client disconnects.
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	debug.Verbose("Preview: viewer connected (%s)", r.RemoteAddr)
	defer debug.Verbose("Preview: viewer disconnected (%s)", r.RemoteAddr)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var sent uint64
	var buf bytes.Buffer
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		img, seq := p.latestFrame()
		if img == nil || seq == sent {
			continue
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
			debug.Error(fmt.Errorf("preview: encode jpeg: %w", err))
			return
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {fmt.Sprint(buf.Len())},
		})
		if err != nil {
			return
		}
		if _, err := part.Write(buf.Bytes()); err != nil {
			return
		}
		flusher.Flush()
		sent = seq
	}
}

// HandleSnapshot serves the latest preview frame as a single JPEG.
func (p *Preview) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, ok, err := p.Snapshot()
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}
