package camera

import (
	"context"
	"image"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the platform camera drivers
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cjeanneret/SnapMatch/internal/debug"
)

// WebcamConfig selects and shapes the requested device.
// Zero values leave the choice to the driver.
type WebcamConfig struct {
	DeviceID  string
	Width     int
	Height    int
	FrameRate float64
	Format    string
}

// Webcam is a Source backed by pion/mediadevices. Only the video
// capability is requested.
type Webcam struct {
	conf WebcamConfig
}

// NewWebcam returns a webcam source for conf.
func NewWebcam(conf WebcamConfig) *Webcam {
	return &Webcam{conf: conf}
}

// constraints returns the mediadevices constraints for the configured device.
func (w *Webcam) constraints(c *mediadevices.MediaTrackConstraints) {
	if w.conf.DeviceID != "" {
		c.DeviceID = prop.StringExact(w.conf.DeviceID)
	}
	if w.conf.Width > 0 {
		c.Width = prop.IntExact(w.conf.Width)
	} else {
		c.Width = prop.IntRanged{Min: 0, Ideal: 640, Max: 4096}
	}
	if w.conf.Height > 0 {
		c.Height = prop.IntExact(w.conf.Height)
	} else {
		c.Height = prop.IntRanged{Min: 0, Ideal: 480, Max: 2160}
	}
	if w.conf.FrameRate > 0 {
		c.FrameRate = prop.FloatExact(w.conf.FrameRate)
	} else {
		c.FrameRate = prop.FloatRanged{Min: 0, Ideal: 30, Max: 140}
	}
	if w.conf.Format == "" {
		c.FrameFormat = prop.FrameFormatOneOf{
			frame.FormatI420,
			frame.FormatI444,
			frame.FormatYUY2,
			frame.FormatUYVY,
			frame.FormatRGBA,
			frame.FormatMJPEG,
			frame.FormatNV12,
			frame.FormatNV21,
		}
	} else {
		c.FrameFormat = prop.FrameFormatExact(w.conf.Format)
	}
	if debug.IsEnabled(debug.LevelTrace) {
		debug.Trace("Camera: constraints %+v", *c)
	}
}

// Open requests user media and returns a reader over its first video track.
func (w *Webcam) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	media, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: w.constraints,
	})
	if err != nil {
		// mediadevices skips drivers it cannot open, so a permission
		// problem surfaces as "no driver"; look at the device nodes.
		if denied := deniedVideoNodes(); denied != nil {
			return nil, errors.Wrapf(denied, "get user media: %v", err)
		}
		return nil, errors.Wrap(err, "get user media")
	}

	tracks := media.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no video track in media stream")
	}
	videoTrack, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		return nil, multierr.Append(
			errors.Errorf("unexpected track type %T", tracks[0]),
			closeTracks(tracks),
		)
	}
	debug.Verbose("Camera: using track %s", videoTrack.ID())

	return &webcamStream{
		tracks: tracks,
		reader: videoTrack.NewReader(false),
	}, nil
}

type webcamStream struct {
	tracks []mediadevices.Track
	reader video.Reader
}

func (s *webcamStream) Read() (image.Image, func(), error) {
	img, release, err := s.reader.Read()
	if err != nil {
		return nil, nil, errors.Wrap(err, "read webcam frame")
	}
	return img, release, nil
}

func (s *webcamStream) Close() error {
	return closeTracks(s.tracks)
}

func closeTracks(tracks []mediadevices.Track) error {
	var err error
	for _, t := range tracks {
		err = multierr.Append(err, t.Close())
	}
	return err
}
