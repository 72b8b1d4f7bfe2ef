package capture

import "fmt"

// State is the position of the session in its capture cycle.
type State int

const (
	StateUnready           State = iota // stream requested, no frame yet
	StateIdle                           // ready for a trigger
	StateCapturing                      // rasterizing the current frame
	StateSubmitting                     // waiting for the recognition endpoint
	StateRendered                       // a match was shown
	StateFailed                         // a failure message was shown
	StateCameraUnavailable              // acquisition failed; terminal
)

var stateNames = map[State]string{
	StateUnready:           "unready",
	StateIdle:              "idle",
	StateCapturing:         "capturing",
	StateSubmitting:        "submitting",
	StateRendered:          "rendered",
	StateFailed:            "failed",
	StateCameraUnavailable: "camera_unavailable",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Busy reports whether a cycle is in flight.
func (s State) Busy() bool {
	return s == StateCapturing || s == StateSubmitting
}

// MarshalText lets State appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("capture: unknown state %q", text)
}

// Outcome is how a cycle ended.
type Outcome int

const (
	OutcomePending    Outcome = iota
	OutcomeRendered           // match label shown
	OutcomeFailed             // failure message shown
	OutcomeSuperseded         // replaced by a newer cycle, nothing shown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRendered:
		return "rendered"
	case OutcomeFailed:
		return "failed"
	case OutcomeSuperseded:
		return "superseded"
	}
	return "pending"
}
