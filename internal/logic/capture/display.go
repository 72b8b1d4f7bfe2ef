package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cjeanneret/SnapMatch/internal/hw/camera"
	"github.com/cjeanneret/SnapMatch/internal/recognition"
)

// Result is the content rendered into the display region for one cycle.
type Result struct {
	CycleID    string    `json:"cycle"`
	Label      string    `json:"label,omitempty"` // raw match label, empty on failure
	Text       string    `json:"text"`            // what the user reads
	Failed     bool      `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	CapturedAt time.Time `json:"captured_at,omitzero"` // zero when no frame was taken
	At         time.Time `json:"at"`
}

// Display is the region where cycle outcomes and camera status are shown.
// Each call overwrites the previous content.
type Display interface {
	ShowMatch(r Result)
	ShowError(r Result)
	ShowCameraStatus(status string)
}

// Camera status lines.
const (
	CameraStarting = "Starting camera..."
	CameraReady    = "Camera ready"
	CameraDenied   = "Camera unavailable: access denied"
	CameraMissing  = "Camera unavailable: no usable device"
)

// DefaultLabelFormat renders a match label.
const DefaultLabelFormat = "Matched Character: %s"

// formatLabel substitutes label into format's single %s.
func formatLabel(format, label string) string {
	return strings.Replace(format, "%s", label, 1)
}

// FailureText turns a cycle error into the message shown to the user.
func FailureText(err error) string {
	var txErr *recognition.TransmissionError
	if errors.As(err, &txErr) {
		switch txErr.Kind {
		case recognition.KindTimeout:
			return "Recognition failed: the server did not answer in time"
		case recognition.KindNetwork:
			return "Recognition failed: could not reach the server"
		case recognition.KindMalformed:
			return "Recognition failed: unexpected server response"
		case recognition.KindStatus:
			if txErr.Message != "" {
				return fmt.Sprintf("Recognition failed: server error %d (%s)", txErr.StatusCode, txErr.Message)
			}
			return fmt.Sprintf("Recognition failed: server error %d", txErr.StatusCode)
		}
	}
	if errors.Is(err, camera.ErrNotReady) || errors.Is(err, camera.ErrStreamEnded) {
		return "Capture failed: camera stream is not available"
	}
	return fmt.Sprintf("Capture failed: %v", err)
}

// cameraStatusText describes an acquisition failure.
func cameraStatusText(err error) string {
	var acqErr *camera.AcquisitionError
	if errors.As(err, &acqErr) && acqErr.Reason == camera.ReasonDenied {
		return CameraDenied
	}
	return CameraMissing
}
