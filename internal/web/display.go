package web

import (
	"sync"

	"github.com/cjeanneret/SnapMatch/internal/logic/capture"
)

// PageState is what the page shows: the result region, the camera status
// line and whether the capture button is usable.
type PageState struct {
	Result *capture.Result `json:"result"`
	Camera string          `json:"camera"`
	State  capture.State   `json:"state"`
	Busy   bool            `json:"busy"`
	Policy string          `json:"policy,omitempty"`
}

// PageDisplay is the display region shared by every connected page. Each
// render overwrites the previous content and is pushed to SSE clients.
type PageDisplay struct {
	broadcaster *StatusBroadcaster

	mu    sync.RWMutex
	state PageState
}

// NewPageDisplay creates an empty display region. policy is reported to the
// page so it can keep the button enabled under the replace policy.
func NewPageDisplay(b *StatusBroadcaster, policy string) *PageDisplay {
	return &PageDisplay{
		broadcaster: b,
		state:       PageState{State: capture.StateUnready, Policy: policy},
	}
}

// ShowMatch renders a match label.
func (d *PageDisplay) ShowMatch(r capture.Result) {
	d.setResult(r)
}

// ShowError renders a failure message.
func (d *PageDisplay) ShowError(r capture.Result) {
	d.setResult(r)
}

func (d *PageDisplay) setResult(r capture.Result) {
	d.mu.Lock()
	d.state.Result = &r
	d.mu.Unlock()
	if d.broadcaster != nil {
		d.broadcaster.BroadcastEvent(KindResult, r)
	}
}

// ShowCameraStatus updates the camera status line.
func (d *PageDisplay) ShowCameraStatus(status string) {
	d.mu.Lock()
	d.state.Camera = status
	d.mu.Unlock()
	if d.broadcaster != nil {
		d.broadcaster.BroadcastEvent(KindCamera, status)
	}
}

type stateUpdate struct {
	State capture.State `json:"state"`
	Busy  bool          `json:"busy"`
}

// SetState records a session transition. It is registered with
// Session.OnStateChange.
func (d *PageDisplay) SetState(s capture.State) {
	d.mu.Lock()
	d.state.State = s
	d.state.Busy = s.Busy()
	d.mu.Unlock()
	if d.broadcaster != nil {
		d.broadcaster.BroadcastEvent(KindState, stateUpdate{State: s, Busy: s.Busy()})
	}
}

// Snapshot returns a copy of the current page state.
func (d *PageDisplay) Snapshot() PageState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := d.state
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}
