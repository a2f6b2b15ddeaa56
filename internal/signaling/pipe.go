package signaling

import (
	"context"
	"errors"
	"sync"
)

// ErrSessionClosed is returned when sending on a session that has ended.
var ErrSessionClosed = errors.New("cast session closed")

// ErrNotController is returned when a display tries to send a control.
var ErrNotController = errors.New("only the controller sends playback controls")

// ErrInvalidControl is returned for an unknown action or bad argument.
var ErrInvalidControl = errors.New("invalid playback control")

type pipeShared struct {
	done      chan struct{}
	closeOnce sync.Once
}

// pipeEnd is one side of an in-memory cast session.
type pipeEnd struct {
	shared *pipeShared
	role   Role
	peer   *pipeEnd

	signals  chan string
	loads    chan MediaInfo
	statuses chan Status
	controls chan Control
	peers    chan PeerEvent
}

// NewPipe returns a connected controller/display pair of in-memory cast
// sessions. Both ends observe the other as joined immediately.
func NewPipe() (controller, display CastSession) {
	shared := &pipeShared{done: make(chan struct{})}
	c := newPipeEnd(shared, RoleController)
	d := newPipeEnd(shared, RoleDisplay)
	c.peer, d.peer = d, c

	c.peers <- PeerEvent{Role: RoleDisplay, Joined: true}
	d.peers <- PeerEvent{Role: RoleController, Joined: true}
	return c, d
}

func newPipeEnd(shared *pipeShared, role Role) *pipeEnd {
	return &pipeEnd{
		shared:   shared,
		role:     role,
		signals:  make(chan string, 256),
		loads:    make(chan MediaInfo, 8),
		statuses: make(chan Status, 8),
		controls: make(chan Control, 8),
		peers:    make(chan PeerEvent, 4),
	}
}

func deliver[T any](ctx context.Context, shared *pipeShared, ch chan T, v T) error {
	select {
	case <-shared.done:
		return ErrSessionClosed
	default:
	}
	select {
	case ch <- v:
		return nil
	case <-shared.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) SendSignal(ctx context.Context, payload string) error {
	return deliver(ctx, p.shared, p.peer.signals, payload)
}

func (p *pipeEnd) Signals() <-chan string { return p.signals }

func (p *pipeEnd) Load(ctx context.Context, media MediaInfo) error {
	return deliver(ctx, p.shared, p.peer.loads, media)
}

func (p *pipeEnd) Loads() <-chan MediaInfo { return p.loads }

func (p *pipeEnd) ReportStatus(ctx context.Context, status Status) error {
	return deliver(ctx, p.shared, p.peer.statuses, status)
}

func (p *pipeEnd) Statuses() <-chan Status { return p.statuses }

func (p *pipeEnd) SendControl(ctx context.Context, control Control) error {
	if p.role != RoleController {
		return ErrNotController
	}
	if !control.Valid() {
		return ErrInvalidControl
	}
	return deliver(ctx, p.shared, p.peer.controls, control)
}

func (p *pipeEnd) Controls() <-chan Control { return p.controls }

func (p *pipeEnd) Peers() <-chan PeerEvent { return p.peers }

func (p *pipeEnd) Stop() error {
	p.shared.closeOnce.Do(func() { close(p.shared.done) })
	return nil
}

func (p *pipeEnd) Done() <-chan struct{} { return p.shared.done }
