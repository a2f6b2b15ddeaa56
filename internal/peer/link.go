package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/signaling"
	"github.com/babelcloud/browsercast/internal/util"
)

// ChannelLabel names the single data channel a Link negotiates.
const ChannelLabel = "urn:x-cast:browsercast"

// MaxFrameSize is the largest payload one Send may carry.
const MaxFrameSize = 64 * 1024

const eventBuffer = 1024

var (
	ErrFrameTooLarge         = fmt.Errorf("frame exceeds %d bytes", MaxFrameSize)
	ErrNotConnected          = errors.New("data channel is not open")
	ErrDestroyed             = errors.New("link destroyed")
	ErrNegotiationFailed     = errors.New("peer connection failed")
	ErrUnexpectedDescription = errors.New("unexpected session description")
)

// Role decides which side creates the data channel and the offer.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Config configures a Link.
type Config struct {
	ICEServers []string
	Metrics    metrics.Collector
}

// Link is one peer-to-peer connection attempt carrying a single ordered
// data channel. A Link that failed or was destroyed is not reused.
type Link struct {
	role    Role
	pc      *webrtc.PeerConnection
	metrics metrics.Collector
	logger  *slog.Logger

	mu                sync.Mutex
	dc                *webrtc.DataChannel
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit

	negotiateOnce sync.Once
	closeOnce     sync.Once
	destroyOnce   sync.Once

	events chan Event
	done   chan struct{}
}

// New creates a Link. An initiator creates the data channel and starts
// negotiating right away; its offer is the first Signal event. A responder
// waits for the remote offer.
func New(role Role, cfg Config) (*Link, error) {
	pc, err := newPeerConnection(cfg.ICEServers)
	if err != nil {
		return nil, err
	}

	l := &Link{
		role:    role,
		pc:      pc,
		metrics: metrics.OrNoop(cfg.Metrics),
		logger:  util.ComponentLogger("peer").With("role", role.String()),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}

	pc.OnICECandidate(l.handleLocalCandidate)
	pc.OnConnectionStateChange(l.handleConnectionState)

	switch role {
	case RoleInitiator:
		ordered := true
		dc, err := pc.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to create data channel: %w", err)
		}
		l.attach(dc)
		pc.OnNegotiationNeeded(func() { l.negotiate() })
		l.negotiate()
	case RoleResponder:
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			l.mu.Lock()
			existing := l.dc
			l.mu.Unlock()
			if existing != nil {
				l.logger.Warn("ignoring extra data channel", "label", dc.Label())
				return
			}
			l.logger.Debug("data channel announced", "label", dc.Label())
			l.attach(dc)
		})
	}

	return l, nil
}

// Events returns the link's event stream.
func (l *Link) Events() <-chan Event { return l.events }

// Done is closed once the link is destroyed.
func (l *Link) Done() <-chan struct{} { return l.done }

func (l *Link) emit(ev Event) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

func (l *Link) emitError(err error) {
	l.emit(Event{Kind: EventError, Err: err})
}

func (l *Link) emitClose() {
	l.closeOnce.Do(func() { l.emit(Event{Kind: EventClose}) })
}

func (l *Link) emitSignal(env signaling.Envelope) {
	payload, err := env.Encode()
	if err != nil {
		l.emitError(err)
		return
	}
	l.emit(Event{Kind: EventSignal, Signal: payload})
}

// negotiate runs the single offer round of an initiator. The offer is
// emitted before it is applied so that it precedes every local candidate.
func (l *Link) negotiate() {
	l.negotiateOnce.Do(func() {
		offer, err := l.pc.CreateOffer(nil)
		if err != nil {
			l.emitError(fmt.Errorf("failed to create offer: %w", err))
			return
		}
		l.emitSignal(signaling.Envelope{Type: offer.Type.String(), SDP: offer.SDP})
		if err := l.pc.SetLocalDescription(offer); err != nil {
			l.emitError(fmt.Errorf("failed to set local description: %w", err))
		}
	})
}

func (l *Link) handleLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	init := c.ToJSON()
	l.emitSignal(signaling.Envelope{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	})
}

func (l *Link) handleConnectionState(s webrtc.PeerConnectionState) {
	if util.IsVerbose() || s == webrtc.PeerConnectionStateConnected || s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
		l.logger.Info("peer connection state changed", "state", s.String())
	}
	switch s {
	case webrtc.PeerConnectionStateFailed:
		l.emitError(ErrNegotiationFailed)
	case webrtc.PeerConnectionStateClosed:
		l.emitClose()
	}
}

// AcceptSignal applies one envelope received from the remote side.
// Candidates that arrive before the remote description are queued.
func (l *Link) AcceptSignal(payload string) error {
	select {
	case <-l.done:
		return ErrDestroyed
	default:
	}

	env, err := signaling.ParseEnvelope(payload)
	if err != nil {
		return err
	}

	if env.IsCandidate() {
		init := webrtc.ICECandidateInit{
			Candidate:        env.Candidate,
			SDPMid:           env.SDPMid,
			SDPMLineIndex:    env.SDPMLineIndex,
			UsernameFragment: env.UsernameFragment,
		}
		l.mu.Lock()
		if !l.remoteSet {
			l.pendingCandidates = append(l.pendingCandidates, init)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()
		if err := l.pc.AddICECandidate(init); err != nil {
			return fmt.Errorf("failed to add ICE candidate: %w", err)
		}
		return nil
	}

	desc := webrtc.SessionDescription{Type: webrtc.NewSDPType(env.Type), SDP: env.SDP}
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if l.role != RoleResponder {
			return fmt.Errorf("%w: offer received by initiator", ErrUnexpectedDescription)
		}
	case webrtc.SDPTypeAnswer:
		if l.role != RoleInitiator {
			return fmt.Errorf("%w: answer received by responder", ErrUnexpectedDescription)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrUnexpectedDescription, env.Type)
	}

	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	if err := l.flushCandidates(); err != nil {
		return err
	}

	if desc.Type == webrtc.SDPTypeOffer {
		answer, err := l.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("failed to create answer: %w", err)
		}
		l.emitSignal(signaling.Envelope{Type: answer.Type.String(), SDP: answer.SDP})
		if err := l.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("failed to set local description: %w", err)
		}
	}
	return nil
}

func (l *Link) flushCandidates() error {
	l.mu.Lock()
	l.remoteSet = true
	pending := l.pendingCandidates
	l.pendingCandidates = nil
	l.mu.Unlock()

	for _, init := range pending {
		if err := l.pc.AddICECandidate(init); err != nil {
			return fmt.Errorf("failed to add queued ICE candidate: %w", err)
		}
	}
	if len(pending) > 0 {
		l.logger.Debug("flushed queued candidates", "count", len(pending))
	}
	return nil
}

func (l *Link) attach(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.logger.Info("data channel open", "label", dc.Label())
		l.emit(Event{Kind: EventConnect})
	})
	dc.OnClose(func() {
		l.logger.Info("data channel closed", "label", dc.Label())
		l.emitClose()
	})
	dc.OnError(func(err error) {
		l.emitError(fmt.Errorf("data channel: %w", err))
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		// msg.Data is only valid during the callback
		data := make([]byte, len(msg.Data))
		copy(data, msg.Data)
		if msg.IsString {
			l.metrics.FrameReceived("text", len(data))
		} else {
			l.metrics.FrameReceived("binary", len(data))
		}
		l.emit(Event{Kind: EventData, Data: data, IsText: msg.IsString})
	})
}

func (l *Link) channel() (*webrtc.DataChannel, error) {
	select {
	case <-l.done:
		return nil, ErrDestroyed
	default:
	}
	l.mu.Lock()
	dc := l.dc
	l.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil, ErrNotConnected
	}
	return dc, nil
}

// SendText sends one text frame.
func (l *Link) SendText(s string) error {
	if len(s) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	dc, err := l.channel()
	if err != nil {
		return err
	}
	if err := dc.SendText(s); err != nil {
		return fmt.Errorf("send text frame: %w", err)
	}
	l.metrics.FrameSent("text", len(s))
	return nil
}

// SendBinary sends one binary frame. Payloads are never split.
func (l *Link) SendBinary(b []byte) error {
	if len(b) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	dc, err := l.channel()
	if err != nil {
		return err
	}
	if err := dc.Send(b); err != nil {
		return fmt.Errorf("send binary frame: %w", err)
	}
	l.metrics.FrameSent("binary", len(b))
	return nil
}

// Destroy detaches every callback and closes the channel and connection.
// It is safe to call more than once.
func (l *Link) Destroy() {
	l.destroyOnce.Do(func() {
		close(l.done)

		l.pc.OnICECandidate(func(*webrtc.ICECandidate) {})
		l.pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
		l.pc.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})
		l.pc.OnNegotiationNeeded(func() {})
		l.pc.OnDataChannel(func(*webrtc.DataChannel) {})

		l.mu.Lock()
		dc := l.dc
		l.dc = nil
		l.pendingCandidates = nil
		l.mu.Unlock()

		if dc != nil {
			dc.OnOpen(func() {})
			dc.OnClose(func() {})
			dc.OnError(func(error) {})
			dc.OnMessage(func(webrtc.DataChannelMessage) {})
			if err := dc.Close(); err != nil {
				l.logger.Debug("data channel close failed", "error", err)
			}
		}
		if err := l.pc.Close(); err != nil {
			l.logger.Debug("peer connection close failed", "error", err)
		}
		l.logger.Debug("link destroyed")
	})
}
