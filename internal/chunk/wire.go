package chunk

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// MaxFrameSize is the largest frame the peer link carries.
	MaxFrameSize = 64 * 1024
	// HeaderSize is the envelope header: 8-byte id, 4-byte length.
	HeaderSize = 12
	// DefaultSegmentSize leaves room for the envelope header inside one frame.
	DefaultSegmentSize = 60 * 1024
)

// RequestID correlates a pull request with its response. IDs increase
// monotonically per Requester.
type RequestID uint64

// Framing selects how pull responses are carried.
type Framing int

const (
	// FramingEnvelope answers with one binary frame carrying id and length.
	FramingEnvelope Framing = iota
	// FramingLegacy answers with a text frame holding the id followed by a
	// binary frame with the payload.
	FramingLegacy
)

func (f Framing) String() string {
	if f == FramingLegacy {
		return "legacy"
	}
	return "envelope"
}

// ParseFraming maps a config value to a Framing, defaulting to envelope.
func ParseFraming(s string) Framing {
	if strings.EqualFold(s, "legacy") {
		return FramingLegacy
	}
	return FramingEnvelope
}

// Request is the text frame a requester sends: {"msg":offset,"id":id}.
type Request struct {
	Offset int64     `json:"msg"`
	ID     RequestID `json:"id"`
	Framed bool      `json:"framed,omitempty"`
}

// EncodeRequest returns the text frame for r.
func EncodeRequest(r Request) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	return string(data), nil
}

// DecodeRequest parses a request text frame.
func DecodeRequest(frame []byte) (Request, error) {
	var raw struct {
		Offset *int64     `json:"msg"`
		ID     *RequestID `json:"id"`
		Framed bool       `json:"framed"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if raw.Offset == nil || raw.ID == nil {
		return Request{}, fmt.Errorf("%w: request needs msg and id", ErrMalformedFrame)
	}
	if *raw.Offset < 0 {
		return Request{}, fmt.Errorf("%w: negative offset %d", ErrMalformedFrame, *raw.Offset)
	}
	return Request{Offset: *raw.Offset, ID: *raw.ID, Framed: raw.Framed}, nil
}

// EncodeLegacyID returns the text frame announcing the response for id.
func EncodeLegacyID(id RequestID) string {
	data, _ := json.Marshal(id)
	return string(data)
}

// DecodeLegacyID parses the text frame preceding a legacy response.
func DecodeLegacyID(frame []byte) (RequestID, error) {
	var id RequestID
	if err := json.Unmarshal(frame, &id); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return id, nil
}

// EncodeEnvelope builds one response frame: id, payload length, payload.
func EncodeEnvelope(id RequestID, payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize-HeaderSize {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrPayloadTooLarge, len(payload))
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint64(frame[0:8], uint64(id))
	binary.BigEndian.PutUint32(frame[8:12], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// DecodeEnvelope splits a response frame. The payload aliases frame.
func DecodeEnvelope(frame []byte) (RequestID, []byte, error) {
	if len(frame) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: envelope of %d bytes", ErrMalformedFrame, len(frame))
	}
	id := RequestID(binary.BigEndian.Uint64(frame[0:8]))
	n := binary.BigEndian.Uint32(frame[8:12])
	if int(n) != len(frame)-HeaderSize {
		return 0, nil, fmt.Errorf("%w: envelope declares %d bytes, carries %d", ErrMalformedFrame, n, len(frame)-HeaderSize)
	}
	return id, frame[HeaderSize:], nil
}
