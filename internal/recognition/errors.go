package recognition

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind classifies a TransmissionError.
type Kind string

const (
	KindNetwork   Kind = "network"   // request never produced a response
	KindStatus    Kind = "status"    // endpoint answered with a non-2xx status
	KindMalformed Kind = "malformed" // 2xx body without a usable match
	KindTimeout   Kind = "timeout"   // no answer within the configured bound
)

// TransmissionError reports a failed submission.
type TransmissionError struct {
	Kind Kind

	// StatusCode is set for KindStatus (and KindMalformed when a status was received).
	StatusCode int

	// Message is the reason given by the endpoint, when it gave one.
	Message string

	Err error
}

func (e *TransmissionError) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Message != "" {
			return fmt.Sprintf("recognition: endpoint returned %d: %s", e.StatusCode, e.Message)
		}
		return fmt.Sprintf("recognition: endpoint returned %d", e.StatusCode)
	case KindTimeout:
		return "recognition: request timed out"
	}
	if e.Err != nil {
		return fmt.Sprintf("recognition %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("recognition %s error: %s", e.Kind, e.Message)
}

func (e *TransmissionError) Unwrap() error {
	return e.Err
}

// maxErrorMessage caps how much of a non-JSON error body ends up in Message.
const maxErrorMessage = 200

// errorMessage extracts the reason from an error body. It understands
// {"error": "..."} and {"error": {"message": "..."}}, and falls back to the
// trimmed body text.
func errorMessage(body []byte) string {
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return flat.Error
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessage {
		cut := maxErrorMessage
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
