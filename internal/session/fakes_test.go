package session

import (
	"errors"
	"sync"

	"github.com/babelcloud/browsercast/internal/peer"
	"github.com/babelcloud/browsercast/internal/signaling"
)

var errFakeLinkDown = errors.New("fake link down")

// fakeNet connects one initiator and one responder in memory. Signals are
// real envelopes so they travel through the cast session like the real ones.
type fakeNet struct {
	mu   sync.Mutex
	ends map[peer.Role]*fakeLink
}

func newFakeNet() *fakeNet {
	return &fakeNet{ends: make(map[peer.Role]*fakeLink)}
}

func (n *fakeNet) factory(role peer.Role) (Link, error) {
	l := &fakeLink{
		net:       n,
		role:      role,
		events:    make(chan peer.Event, 1024),
		destroyed: make(chan struct{}),
	}
	n.mu.Lock()
	n.ends[role] = l
	n.mu.Unlock()

	if role == peer.RoleInitiator {
		l.signal("offer")
	}
	return l, nil
}

func (n *fakeNet) end(role peer.Role) *fakeLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ends[role]
}

type fakeLink struct {
	net       *fakeNet
	role      peer.Role
	events    chan peer.Event
	destroyed chan struct{}
	once      sync.Once
}

func (l *fakeLink) signal(kind string) {
	payload, err := signaling.Envelope{Type: kind, SDP: "v=0 fake"}.Encode()
	if err != nil {
		panic(err)
	}
	l.events <- peer.Event{Kind: peer.EventSignal, Signal: payload}
}

func (l *fakeLink) Events() <-chan peer.Event { return l.events }

func (l *fakeLink) AcceptSignal(payload string) error {
	env, err := signaling.ParseEnvelope(payload)
	if err != nil {
		return err
	}
	switch {
	case env.Type == "offer" && l.role == peer.RoleResponder:
		l.signal("answer")
		l.events <- peer.Event{Kind: peer.EventConnect}
	case env.Type == "answer" && l.role == peer.RoleInitiator:
		l.events <- peer.Event{Kind: peer.EventConnect}
	default:
		return peer.ErrUnexpectedDescription
	}
	return nil
}

func (l *fakeLink) other() *fakeLink {
	if l.role == peer.RoleInitiator {
		return l.net.end(peer.RoleResponder)
	}
	return l.net.end(peer.RoleInitiator)
}

func (l *fakeLink) send(data []byte, isText bool) error {
	select {
	case <-l.destroyed:
		return peer.ErrDestroyed
	default:
	}
	o := l.other()
	if o == nil {
		return peer.ErrNotConnected
	}
	select {
	case <-o.destroyed:
		return errFakeLinkDown
	default:
	}
	o.events <- peer.Event{Kind: peer.EventData, Data: append([]byte(nil), data...), IsText: isText}
	return nil
}

func (l *fakeLink) SendText(s string) error   { return l.send([]byte(s), true) }
func (l *fakeLink) SendBinary(b []byte) error { return l.send(b, false) }

func (l *fakeLink) Destroy() {
	l.once.Do(func() {
		close(l.destroyed)
		if o := l.other(); o != nil {
			select {
			case o.events <- peer.Event{Kind: peer.EventClose}:
			default:
			}
		}
	})
}

func (l *fakeLink) isDestroyed() bool {
	select {
	case <-l.destroyed:
		return true
	default:
		return false
	}
}
