package chunk

import "errors"

var (
	// ErrLinkClosed rejects every request still pending when the link goes away.
	ErrLinkClosed = errors.New("link closed")
	// ErrUnknownRequest is returned for a response nobody is waiting for.
	ErrUnknownRequest = errors.New("response for unknown request")
	// ErrMalformedFrame is returned for frames that do not parse.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrPayloadTooLarge is returned when a payload does not fit one frame.
	ErrPayloadTooLarge = errors.New("payload too large for one frame")
)
