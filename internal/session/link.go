package session

import (
	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/peer"
)

// Link is what a session needs from a peer link. *peer.Link satisfies it.
type Link interface {
	Events() <-chan peer.Event
	AcceptSignal(payload string) error
	SendText(s string) error
	SendBinary(b []byte) error
	Destroy()
}

// LinkFactory creates the link for one connection attempt.
type LinkFactory func(role peer.Role) (Link, error)

// PeerLinks returns a factory creating WebRTC links.
func PeerLinks(iceServers []string, collector metrics.Collector) LinkFactory {
	return func(role peer.Role) (Link, error) {
		return peer.New(role, peer.Config{ICEServers: iceServers, Metrics: collector})
	}
}
