package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyEnvelope is returned for a payload that is neither a session
// description nor a candidate.
var ErrEmptyEnvelope = errors.New("signal envelope carries neither description nor candidate")

// Envelope is one signaling payload: a session description
// ({"type":"offer","sdp":...}) or an ICE candidate
// ({"candidate":...,"sdpMid":...,"sdpMLineIndex":...}).
type Envelope struct {
	Type string `json:"type,omitempty"`
	SDP  string `json:"sdp,omitempty"`

	Candidate        string  `json:"candidate,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// IsDescription reports whether the envelope carries an offer or answer.
func (e Envelope) IsDescription() bool {
	return e.Type != ""
}

// IsCandidate reports whether the envelope carries an ICE candidate.
func (e Envelope) IsCandidate() bool {
	return e.Type == "" && e.Candidate != ""
}

// Encode returns the opaque text form handed to the cast session.
func (e Envelope) Encode() (string, error) {
	if !e.IsDescription() && !e.IsCandidate() {
		return "", ErrEmptyEnvelope
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode signal envelope: %w", err)
	}
	return string(data), nil
}

// ParseEnvelope decodes an opaque payload received from the cast session.
func ParseEnvelope(payload string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Envelope{}, fmt.Errorf("decode signal envelope: %w", err)
	}
	if !e.IsDescription() && !e.IsCandidate() {
		return Envelope{}, ErrEmptyEnvelope
	}
	return e, nil
}
