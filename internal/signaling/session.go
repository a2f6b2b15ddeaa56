package signaling

import (
	"context"
)

// CastSession is the broadcast-session collaborator. It carries opaque
// signaling payloads reliably and in order, plus the small amount of cast
// metadata (load, status, control, stop) the two sides exchange.
type CastSession interface {
	// SendSignal delivers one opaque signaling payload to the other side.
	SendSignal(ctx context.Context, payload string) error
	// Signals yields inbound signaling payloads in the order they were sent.
	Signals() <-chan string

	Load(ctx context.Context, media MediaInfo) error
	Loads() <-chan MediaInfo

	ReportStatus(ctx context.Context, status Status) error
	Statuses() <-chan Status

	// SendControl asks the display's player to play, pause, seek, change
	// volume or stop. Only the controller sends these.
	SendControl(ctx context.Context, control Control) error
	Controls() <-chan Control

	// Peers reports the other side joining or leaving.
	Peers() <-chan PeerEvent

	// Stop ends the session for both sides.
	Stop() error
	// Done is closed once the session is over.
	Done() <-chan struct{}
}
