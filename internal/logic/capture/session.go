package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SnapMatch/internal/config"
	"github.com/cjeanneret/SnapMatch/internal/debug"
	"github.com/cjeanneret/SnapMatch/internal/hw/camera"
	"github.com/cjeanneret/SnapMatch/internal/recognition"
)

var (
	// ErrNotReady is returned by Trigger before the stream delivered a frame.
	ErrNotReady = errors.New("capture: camera not ready")

	// ErrBusy is returned by Trigger under the reject policy while a cycle is in flight.
	ErrBusy = errors.New("capture: a capture is already in progress")

	// ErrCameraUnavailable is returned by Trigger once acquisition has failed.
	ErrCameraUnavailable = errors.New("capture: camera unavailable")

	// ErrNotStarted is returned by Trigger before Start.
	ErrNotStarted = errors.New("capture: session not started")
)

// Submitter sends one frame to the recognition endpoint.
type Submitter interface {
	Submit(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error)
}

// Options tunes a Session.
type Options struct {
	Policy      string // config.PolicyReject or config.PolicyReplace
	LabelFormat string // one %s for the match label
}

// Session drives capture cycles: capture the current frame, submit it and
// render the outcome. At most one cycle can reach the display at a time.
type Session struct {
	camera      *camera.Controller
	submitter   Submitter
	display     Display
	policy      string
	labelFormat string

	mu        sync.Mutex
	ctx       context.Context
	state     State
	stream    *camera.LiveStream
	current   *Cycle
	observers []func(State)
	wg        sync.WaitGroup
}

// NewSession creates a session. It does nothing until Start.
func NewSession(cam *camera.Controller, sub Submitter, display Display, opts Options) *Session {
	if opts.Policy == "" {
		opts.Policy = config.PolicyReject
	}
	if opts.LabelFormat == "" {
		opts.LabelFormat = DefaultLabelFormat
	}
	return &Session{
		camera:      cam,
		submitter:   sub,
		display:     display,
		policy:      opts.Policy,
		labelFormat: opts.LabelFormat,
		state:       StateUnready,
	}
}

// OnStateChange registers fn to be called on every transition. Observers run
// synchronously with the session lock held and must not call back into it.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Policy returns the concurrent-capture policy in force.
func (s *Session) Policy() string {
	return s.policy
}

func (s *Session) setStateLocked(cycleID string, to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if cycleID == "" {
		cycleID = "-"
	}
	debug.State(cycleID, from.String(), to.String())
	for _, fn := range s.observers {
		fn(to)
	}
}

// Start requests the camera once and waits for its first frame. ctx also
// bounds every cycle started later. An acquisition failure is reported on
// the display's camera status line and returned; the session then stays in
// StateCameraUnavailable.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("capture: session already started")
	}
	s.ctx = ctx
	s.mu.Unlock()

	s.display.ShowCameraStatus(CameraStarting)
	stream, err := s.camera.RequestStream(ctx)
	if err != nil {
		s.mu.Lock()
		s.setStateLocked("", StateCameraUnavailable)
		s.mu.Unlock()
		s.display.ShowCameraStatus(cameraStatusText(err))
		return err
	}

	select {
	case <-stream.Ready():
	case <-stream.Done():
		if _, _, ok := stream.NativeSize(); ok {
			break
		}
		cause := stream.Err()
		if cause == nil {
			cause = camera.ErrStreamEnded
		}
		acqErr := &camera.AcquisitionError{Reason: camera.ReasonUnavailable, Err: cause}
		debug.Warn("Capture: stream ended before the first frame: %v", cause)
		s.mu.Lock()
		s.setStateLocked("", StateCameraUnavailable)
		s.mu.Unlock()
		s.display.ShowCameraStatus(CameraMissing)
		return acqErr
	case <-ctx.Done():
		return ctx.Err()
	}

	w, h, _ := stream.NativeSize()
	debug.Info("Capture: camera ready (%dx%d), policy %s", w, h, s.policy)
	s.mu.Lock()
	s.stream = stream
	s.setStateLocked("", StateIdle)
	s.mu.Unlock()
	s.display.ShowCameraStatus(CameraReady)
	return nil
}

// Run starts the session and blocks until ctx is done, then waits for the
// in-flight cycle. A camera that cannot be acquired is not an error for Run:
// the page keeps serving and shows the camera status.
func (s *Session) Run(ctx context.Context) error {
	err := s.Start(ctx)
	var acqErr *camera.AcquisitionError
	if err != nil && !errors.As(err, &acqErr) && !errors.Is(err, context.Canceled) {
		return err
	}
	<-ctx.Done()
	s.Wait()
	return nil
}

// Trigger starts one capture cycle. Under the reject policy it returns
// ErrBusy while a cycle is in flight; under the replace policy the in-flight
// cycle is cancelled and its outcome discarded.
func (s *Session) Trigger() (*Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.ctx == nil:
		return nil, ErrNotStarted
	case s.state == StateCameraUnavailable:
		return nil, ErrCameraUnavailable
	case s.stream == nil:
		return nil, ErrNotReady
	case s.ctx.Err() != nil:
		return nil, s.ctx.Err()
	}

	if prev := s.current; prev != nil {
		if s.policy != config.PolicyReplace {
			debug.Live("Capture: trigger rejected, cycle %s in flight", prev.ID)
			return nil, ErrBusy
		}
		debug.Live("Capture: cycle %s superseded", prev.ID)
		prev.supersede()
	}

	c := newCycle(s.ctx)
	s.current = c
	s.setStateLocked(c.ID, StateCapturing)

	s.wg.Add(1)
	go s.run(c)
	return c, nil
}

func (s *Session) run(c *Cycle) {
	defer s.wg.Done()

	frame, err := s.camera.CaptureFrame(s.stream)
	if err != nil {
		s.finish(c, nil, nil, fmt.Errorf("capture frame: %w", err))
		return
	}

	s.mu.Lock()
	if s.current != c {
		s.mu.Unlock()
		c.complete(OutcomeSuperseded, Result{CycleID: c.ID})
		return
	}
	s.setStateLocked(c.ID, StateSubmitting)
	s.mu.Unlock()

	result, err := s.submitter.Submit(c.ctx, frame)
	s.finish(c, frame, result, err)
}

// finish renders the outcome of c unless a newer cycle replaced it or the
// session is shutting down, then returns the session to Idle.
func (s *Session) finish(c *Cycle, frame *camera.CapturedFrame, match *recognition.MatchResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != c {
		c.complete(OutcomeSuperseded, Result{CycleID: c.ID})
		return
	}
	if err != nil && errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
		debug.Verbose("Capture: cycle %s dropped on shutdown", c.ID)
		s.current = nil
		s.setStateLocked(c.ID, StateIdle)
		c.complete(OutcomeSuperseded, Result{CycleID: c.ID})
		return
	}

	r := Result{CycleID: c.ID, StartedAt: c.StartedAt, At: time.Now()}
	if frame != nil {
		r.CapturedAt = frame.CapturedAt()
	}
	outcome := OutcomeRendered
	if err != nil {
		r.Failed = true
		r.Text = FailureText(err)
		outcome = OutcomeFailed
		debug.Warn("Capture: cycle %s failed: %v", c.ID, err)
		s.display.ShowError(r)
		s.setStateLocked(c.ID, StateFailed)
	} else {
		r.Label = match.Match
		r.Text = formatLabel(s.labelFormat, match.Match)
		debug.Match(c.ID, match.Match)
		s.display.ShowMatch(r)
		s.setStateLocked(c.ID, StateRendered)
	}
	s.current = nil
	s.setStateLocked(c.ID, StateIdle)
	c.complete(outcome, r)
}

// Wait blocks until every started cycle has completed.
func (s *Session) Wait() {
	s.wg.Wait()
}
