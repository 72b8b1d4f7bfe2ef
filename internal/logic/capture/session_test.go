package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/SnapMatch/internal/config"
	"github.com/cjeanneret/SnapMatch/internal/hw/camera"
	"github.com/cjeanneret/SnapMatch/internal/recognition"
)

// submitFunc adapts a function to Submitter.
type submitFunc func(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error)

func (f submitFunc) Submit(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error) {
	return f(ctx, frame)
}

func matchAlways(label string) submitFunc {
	return func(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error) {
		return &recognition.MatchResult{Match: label}, nil
	}
}

// recordingDisplay records everything rendered into it.
type recordingDisplay struct {
	mu       sync.Mutex
	matches  []Result
	failures []Result
	statuses []string
}

func (d *recordingDisplay) ShowMatch(r Result) {
	d.mu.Lock()
	d.matches = append(d.matches, r)
	d.mu.Unlock()
}

func (d *recordingDisplay) ShowError(r Result) {
	d.mu.Lock()
	d.failures = append(d.failures, r)
	d.mu.Unlock()
}

func (d *recordingDisplay) ShowCameraStatus(status string) {
	d.mu.Lock()
	d.statuses = append(d.statuses, status)
	d.mu.Unlock()
}

func (d *recordingDisplay) snapshot() (matches, failures []Result, statuses []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Result(nil), d.matches...), append([]Result(nil), d.failures...), append([]string(nil), d.statuses...)
}

// failingSource refuses to open.
type failingSource struct{ err error }

func (s failingSource) Open(ctx context.Context) (camera.Stream, error) { return nil, s.err }

// silentSource opens a stream that never delivers a frame.
type silentSource struct{}

type silentStream struct{ closed chan struct{} }

func (silentSource) Open(ctx context.Context) (camera.Stream, error) {
	return &silentStream{closed: make(chan struct{})}, nil
}

func (s *silentStream) Read() (image.Image, func(), error) {
	<-s.closed
	return nil, nil, fmt.Errorf("closed")
}

func (s *silentStream) Close() error {
	close(s.closed)
	return nil
}

// brokenSource opens a stream whose every read fails.
type brokenSource struct{ err error }

type brokenStream struct{ err error }

func (s brokenSource) Open(ctx context.Context) (camera.Stream, error) {
	return brokenStream{err: s.err}, nil
}

func (s brokenStream) Read() (image.Image, func(), error) { return nil, nil, s.err }

func (brokenStream) Close() error { return nil }

func newStartedSession(t *testing.T, sub Submitter, opts Options) (*Session, *recordingDisplay) {
	t.Helper()
	ctrl := camera.NewController(camera.NewTestPattern(32, 24, 100), nil)
	display := &recordingDisplay{}
	s := NewSession(ctrl, sub, display, opts)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		s.Wait()
		ctrl.Close()
	})

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, display
}

func waitCycle(t *testing.T, c *Cycle) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	o, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("cycle %s did not finish: %v", c.ID, err)
	}
	return o
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", s.State(), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStart_EntersIdle(t *testing.T) {
	s, display := newStartedSession(t, matchAlways("Harry"), Options{})
	if s.State() != StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}
	_, _, statuses := display.snapshot()
	if len(statuses) != 2 || statuses[0] != CameraStarting || statuses[1] != CameraReady {
		t.Errorf("statuses = %v, want [%q %q]", statuses, CameraStarting, CameraReady)
	}
	if matches, failures, _ := display.snapshot(); len(matches)+len(failures) != 0 {
		t.Error("nothing should be rendered before the first trigger")
	}
}

func TestTrigger_RendersMatch(t *testing.T) {
	s, display := newStartedSession(t, matchAlways("Harry"), Options{})

	var mu sync.Mutex
	var seen []State
	s.OnStateChange(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	c, err := s.Trigger()
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if o := waitCycle(t, c); o != OutcomeRendered {
		t.Fatalf("outcome = %v, want rendered", o)
	}

	matches, failures, _ := display.snapshot()
	if len(matches) != 1 || len(failures) != 0 {
		t.Fatalf("matches=%d failures=%d, want 1/0", len(matches), len(failures))
	}
	if matches[0].Text != "Matched Character: Harry" {
		t.Errorf("text = %q, want %q", matches[0].Text, "Matched Character: Harry")
	}
	if matches[0].Label != "Harry" || matches[0].CycleID != c.ID {
		t.Errorf("result = %+v", matches[0])
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateCapturing, StateSubmitting, StateRendered, StateIdle}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", seen, want)
	}
}

func TestTrigger_SubmitsNativeResolution(t *testing.T) {
	var got image.Rectangle
	sub := submitFunc(func(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error) {
		img, err := camera.DecodeDataURL(frame.DataURL())
		if err != nil {
			return nil, err
		}
		got = img.Bounds()
		return &recognition.MatchResult{Match: "Luna"}, nil
	})
	s, _ := newStartedSession(t, sub, Options{})

	c, _ := s.Trigger()
	waitCycle(t, c)
	if got.Dx() != 32 || got.Dy() != 24 {
		t.Errorf("submitted frame = %v, want 32x24", got)
	}
}

func TestTrigger_IdempotentRender(t *testing.T) {
	s, display := newStartedSession(t, matchAlways("Harry"), Options{})

	for i := 0; i < 2; i++ {
		c, err := s.Trigger()
		if err != nil {
			t.Fatalf("Trigger %d: %v", i, err)
		}
		waitCycle(t, c)
	}
	matches, _, _ := display.snapshot()
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Text != matches[1].Text {
		t.Errorf("same label rendered differently: %q vs %q", matches[0].Text, matches[1].Text)
	}
	if matches[1].Text != "Matched Character: Harry" {
		t.Errorf("display region = %q", matches[1].Text)
	}
}

func TestTrigger_ServerErrorShowsFailureThenRecovers(t *testing.T) {
	var mu sync.Mutex
	fail := true
	sub := submitFunc(func(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			return nil, &recognition.TransmissionError{Kind: recognition.KindStatus, StatusCode: 500}
		}
		return &recognition.MatchResult{Match: "Ron"}, nil
	})
	s, display := newStartedSession(t, sub, Options{})

	c, _ := s.Trigger()
	if o := waitCycle(t, c); o != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", o)
	}
	_, failures, _ := display.snapshot()
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	if failures[0].Text != "Recognition failed: server error 500" || !failures[0].Failed {
		t.Errorf("failure = %+v", failures[0])
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want idle after a failure", s.State())
	}

	c2, err := s.Trigger()
	if err != nil {
		t.Fatalf("Trigger after failure: %v", err)
	}
	if o := waitCycle(t, c2); o != OutcomeRendered {
		t.Errorf("second outcome = %v, want rendered", o)
	}
}

func TestTrigger_RejectPolicy(t *testing.T) {
	release := make(chan struct{})
	sub := submitFunc(func(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error) {
		<-release
		return &recognition.MatchResult{Match: "Neville"}, nil
	})
	s, display := newStartedSession(t, sub, Options{Policy: config.PolicyReject})

	first, err := s.Trigger()
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitState(t, s, StateSubmitting)

	for i := 0; i < 3; i++ {
		if _, err := s.Trigger(); !errors.Is(err, ErrBusy) {
			t.Errorf("Trigger while busy = %v, want ErrBusy", err)
		}
	}
	close(release)
	waitCycle(t, first)

	matches, failures, _ := display.snapshot()
	if len(matches)+len(failures) != 1 {
		t.Errorf("renders = %d, want exactly 1", len(matches)+len(failures))
	}
}

func TestTrigger_ReplacePolicy(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	firstRelease := make(chan struct{})
	sub := submitFunc(func(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			// answers late and ignores cancellation
			<-firstRelease
			return &recognition.MatchResult{Match: "Stale"}, nil
		}
		return &recognition.MatchResult{Match: "Fresh"}, nil
	})
	s, display := newStartedSession(t, sub, Options{Policy: config.PolicyReplace})

	first, _ := s.Trigger()
	waitState(t, s, StateSubmitting)
	second, err := s.Trigger()
	if err != nil {
		t.Fatalf("Trigger under replace: %v", err)
	}
	if o := waitCycle(t, second); o != OutcomeRendered {
		t.Fatalf("second outcome = %v, want rendered", o)
	}

	close(firstRelease)
	if o := waitCycle(t, first); o != OutcomeSuperseded {
		t.Errorf("first outcome = %v, want superseded", o)
	}

	matches, failures, _ := display.snapshot()
	if len(matches) != 1 || len(failures) != 0 {
		t.Fatalf("matches=%d failures=%d, want 1/0", len(matches), len(failures))
	}
	if matches[0].Label != "Fresh" || matches[0].CycleID != second.ID {
		t.Errorf("rendered %+v, want the second cycle", matches[0])
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}
}

func TestTrigger_ReplaceCancelsInFlight(t *testing.T) {
	cancelled := make(chan struct{}, 1)
	var mu sync.Mutex
	calls := 0
	sub := submitFunc(func(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-ctx.Done()
			cancelled <- struct{}{}
			return nil, ctx.Err()
		}
		return &recognition.MatchResult{Match: "Fresh"}, nil
	})
	s, display := newStartedSession(t, sub, Options{Policy: config.PolicyReplace})

	first, _ := s.Trigger()
	waitState(t, s, StateSubmitting)
	second, _ := s.Trigger()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("first submission was not cancelled")
	}
	if o := waitCycle(t, first); o != OutcomeSuperseded {
		t.Errorf("first outcome = %v, want superseded", o)
	}
	waitCycle(t, second)

	_, failures, _ := display.snapshot()
	if len(failures) != 0 {
		t.Errorf("cancelled cycle rendered a failure: %+v", failures)
	}
}

func TestStart_CameraUnavailable(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
	}{
		{"no device", errors.New("no video device"), CameraMissing},
		{"denied", fmt.Errorf("open /dev/video0: %w", fs.ErrPermission), CameraDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := camera.NewController(failingSource{err: tt.err}, nil)
			display := &recordingDisplay{}
			calls := 0
			sub := submitFunc(func(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error) {
				calls++
				return nil, nil
			})
			s := NewSession(ctrl, sub, display, Options{})

			err := s.Start(context.Background())
			var acqErr *camera.AcquisitionError
			if !errors.As(err, &acqErr) {
				t.Fatalf("Start err = %v, want *AcquisitionError", err)
			}
			if s.State() != StateCameraUnavailable {
				t.Errorf("state = %v, want camera_unavailable", s.State())
			}
			if _, err := s.Trigger(); !errors.Is(err, ErrCameraUnavailable) {
				t.Errorf("Trigger err = %v, want ErrCameraUnavailable", err)
			}

			matches, failures, statuses := display.snapshot()
			if len(matches) != 0 || len(failures) != 0 {
				t.Error("the result region must stay untouched")
			}
			if statuses[len(statuses)-1] != tt.wantStatus {
				t.Errorf("camera status = %q, want %q", statuses[len(statuses)-1], tt.wantStatus)
			}
			if calls != 0 {
				t.Errorf("submitter called %d times, want 0", calls)
			}
		})
	}
}

func TestStart_StreamFailsBeforeFirstFrame(t *testing.T) {
	readErr := errors.New("VIDIOC_DQBUF: no such device")
	ctrl := camera.NewController(brokenSource{err: readErr}, nil)
	defer ctrl.Close()
	display := &recordingDisplay{}
	s := NewSession(ctrl, matchAlways("x"), display, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Start(ctx)

	var acqErr *camera.AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("Start err = %v, want *AcquisitionError", err)
	}
	if acqErr.Reason != camera.ReasonUnavailable || !errors.Is(err, readErr) {
		t.Errorf("Start err = %v, want unavailable wrapping the read error", err)
	}
	if s.State() != StateCameraUnavailable {
		t.Errorf("state = %v, want camera_unavailable", s.State())
	}
	if _, err := s.Trigger(); !errors.Is(err, ErrCameraUnavailable) {
		t.Errorf("Trigger err = %v, want ErrCameraUnavailable", err)
	}
	_, _, statuses := display.snapshot()
	if statuses[len(statuses)-1] != CameraMissing {
		t.Errorf("camera status = %q, want %q", statuses[len(statuses)-1], CameraMissing)
	}
}

func TestTrigger_ShutdownDropsInFlightCycle(t *testing.T) {
	ctrl := camera.NewController(camera.NewTestPattern(32, 24, 100), nil)
	defer ctrl.Close()
	display := &recordingDisplay{}
	sub := submitFunc(func(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := NewSession(ctrl, sub, display, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c, err := s.Trigger()
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitState(t, s, StateSubmitting)

	cancel()
	if o := waitCycle(t, c); o != OutcomeSuperseded {
		t.Errorf("outcome = %v, want superseded", o)
	}
	s.Wait()

	matches, failures, _ := display.snapshot()
	if len(matches) != 0 || len(failures) != 0 {
		t.Errorf("shutdown rendered %+v %+v, want nothing", matches, failures)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}
}

func TestTrigger_CancelledSubmitRenderedWhileLive(t *testing.T) {
	sub := submitFunc(func(ctx context.Context, frame *camera.CapturedFrame) (*recognition.MatchResult, error) {
		return nil, fmt.Errorf("submit: %w", context.Canceled)
	})
	s, display := newStartedSession(t, sub, Options{})

	c, _ := s.Trigger()
	if o := waitCycle(t, c); o != OutcomeFailed {
		t.Errorf("outcome = %v, want failed while the session is live", o)
	}
	if _, failures, _ := display.snapshot(); len(failures) != 1 {
		t.Errorf("failures = %d, want 1", len(failures))
	}
}

func TestTrigger_ResultTimestamps(t *testing.T) {
	s, display := newStartedSession(t, matchAlways("Hermione"), Options{})

	c, _ := s.Trigger()
	waitCycle(t, c)

	matches, _, _ := display.snapshot()
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	r := matches[0]
	if !r.StartedAt.Equal(c.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", r.StartedAt, c.StartedAt)
	}
	if r.CapturedAt.IsZero() || r.CapturedAt.Before(r.StartedAt) || r.At.Before(r.CapturedAt) {
		t.Errorf("timestamps out of order: started %v captured %v at %v", r.StartedAt, r.CapturedAt, r.At)
	}
}

func TestTrigger_BeforeReady(t *testing.T) {
	ctrl := camera.NewController(silentSource{}, nil)
	defer ctrl.Close()
	s := NewSession(ctrl, matchAlways("x"), &recordingDisplay{}, Options{})

	if _, err := s.Trigger(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Trigger before Start = %v, want ErrNotStarted", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	startErr := make(chan error, 1)
	go func() { startErr <- s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := s.Trigger()
		if errors.Is(err, ErrNotReady) {
			break
		}
		if !errors.Is(err, ErrNotStarted) || time.Now().After(deadline) {
			t.Fatalf("Trigger = %v, want ErrNotReady while waiting for the first frame", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if s.State() != StateUnready {
		t.Errorf("state = %v, want unready", s.State())
	}

	cancel()
	if err := <-startErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Start err = %v, want context.Canceled", err)
	}
}

func TestRun_CameraUnavailableKeepsRunning(t *testing.T) {
	ctrl := camera.NewController(failingSource{err: errors.New("no camera")}, nil)
	s := NewSession(ctrl, matchAlways("x"), &recordingDisplay{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run err = %v, want nil", err)
	}
}

func TestLabelFormat(t *testing.T) {
	s, display := newStartedSession(t, matchAlways("Dobby"), Options{LabelFormat: "Looks like %s!"})
	c, _ := s.Trigger()
	waitCycle(t, c)
	matches, _, _ := display.snapshot()
	if len(matches) != 1 || matches[0].Text != "Looks like Dobby!" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestFailureText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&recognition.TransmissionError{Kind: recognition.KindTimeout}, "Recognition failed: the server did not answer in time"},
		{&recognition.TransmissionError{Kind: recognition.KindNetwork}, "Recognition failed: could not reach the server"},
		{&recognition.TransmissionError{Kind: recognition.KindMalformed}, "Recognition failed: unexpected server response"},
		{&recognition.TransmissionError{Kind: recognition.KindStatus, StatusCode: 400, Message: "No image uploaded"}, "Recognition failed: server error 400 (No image uploaded)"},
		{fmt.Errorf("capture frame: %w", camera.ErrStreamEnded), "Capture failed: camera stream is not available"},
		{errors.New("boom"), "Capture failed: boom"},
	}
	for _, tt := range tests {
		if got := FailureText(tt.err); got != tt.want {
			t.Errorf("FailureText(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestStateNames(t *testing.T) {
	if StateSubmitting.String() != "submitting" || State(99).String() != "unknown" {
		t.Error("unexpected state names")
	}
	if !StateCapturing.Busy() || !StateSubmitting.Busy() || StateIdle.Busy() {
		t.Error("Busy should be true only while capturing or submitting")
	}
}

func TestState_TextRoundTrip(t *testing.T) {
	for st := range stateNames {
		text, err := st.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got State
		if err := got.UnmarshalText(text); err != nil || got != st {
			t.Errorf("UnmarshalText(%q) = %v, %v; want %v", text, got, err, st)
		}
	}
	var s State
	if err := s.UnmarshalText([]byte("sleeping")); err == nil {
		t.Error("unknown state name accepted")
	}
}
