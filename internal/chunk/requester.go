package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/util"
)

// Sender is the half of a peer link the chunk protocol writes to.
type Sender interface {
	SendText(s string) error
	SendBinary(b []byte) error
}

// RequesterOptions configures a Requester.
type RequesterOptions struct {
	Framing Framing
	// Timeout bounds a request whose context has no deadline. Zero means none.
	Timeout time.Duration
	Metrics metrics.Collector
}

type result struct {
	data []byte
	err  error
}

// Requester is the display half of pull mode: it turns offsets into
// request frames and matches response frames back to their callers.
type Requester struct {
	link    Sender
	framing Framing
	timeout time.Duration
	metrics metrics.Collector
	logger  *slog.Logger

	nextID atomic.Uint64

	// held for the whole round trip in legacy framing
	serial chan struct{}

	mu      sync.Mutex
	pending map[RequestID]chan result
	closed  error

	// legacy framing: the id announced by the last text frame, waiting for
	// its binary frame
	announced    RequestID
	hasAnnounced bool
}

// NewRequester creates a Requester writing to link. Inbound frames must be
// handed to HandleFrame.
func NewRequester(link Sender, opts RequesterOptions) *Requester {
	return &Requester{
		link:    link,
		framing: opts.Framing,
		timeout: opts.Timeout,
		metrics: metrics.OrNoop(opts.Metrics),
		logger:  util.ComponentLogger("requester"),
		serial:  make(chan struct{}, 1),
		pending: make(map[RequestID]chan result),
	}
}

// Request fetches the segment starting at offset.
func (r *Requester) Request(ctx context.Context, offset int64) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if r.framing == FramingLegacy {
		select {
		case r.serial <- struct{}{}:
			defer func() { <-r.serial }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	id := RequestID(r.nextID.Add(1))
	ch := make(chan result, 1)

	r.mu.Lock()
	if r.closed != nil {
		err := r.closed
		r.mu.Unlock()
		return nil, err
	}
	r.pending[id] = ch
	r.mu.Unlock()

	frame, err := EncodeRequest(Request{Offset: offset, ID: id, Framed: r.framing == FramingEnvelope})
	if err != nil {
		r.forget(id)
		return nil, err
	}
	r.metrics.ChunkRequested()
	if err := r.link.SendText(frame); err != nil {
		r.forget(id)
		r.metrics.ChunkFailed("send")
		return nil, fmt.Errorf("send request %d: %w", id, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		r.metrics.ChunkServed(len(res.data))
		return res.data, nil
	case <-ctx.Done():
		r.forget(id)
		select {
		case res := <-ch:
			// resolved while the context was ending
			if res.err != nil {
				return nil, res.err
			}
			r.metrics.ChunkServed(len(res.data))
			return res.data, nil
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.metrics.ChunkFailed("timeout")
		} else {
			r.metrics.ChunkFailed("cancelled")
		}
		return nil, ctx.Err()
	}
}

func (r *Requester) forget(id RequestID) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// resolve completes id exactly once. It reports whether anyone was waiting.
func (r *Requester) resolve(id RequestID, res result) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok {
		ch <- res
	}
	return ok
}

// HandleFrame consumes one inbound frame. Responses nobody waits for any
// more are dropped and reported as ErrUnknownRequest.
func (r *Requester) HandleFrame(data []byte, isText bool) error {
	if r.framing == FramingEnvelope {
		if isText {
			return fmt.Errorf("%w: unexpected text frame", ErrMalformedFrame)
		}
		id, payload, err := DecodeEnvelope(data)
		if err != nil {
			return err
		}
		if !r.resolve(id, result{data: payload}) {
			return fmt.Errorf("%w: %d", ErrUnknownRequest, id)
		}
		return nil
	}

	if isText {
		id, err := DecodeLegacyID(data)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.announced, r.hasAnnounced = id, true
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	id, ok := r.announced, r.hasAnnounced
	r.hasAnnounced = false
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: binary frame without id", ErrUnknownRequest)
	}
	if !r.resolve(id, result{data: data}) {
		return fmt.Errorf("%w: %d", ErrUnknownRequest, id)
	}
	return nil
}

// Pending returns the number of requests awaiting a response.
func (r *Requester) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close rejects every pending and future request with err, or with
// ErrLinkClosed when err is nil.
func (r *Requester) Close(err error) {
	if err == nil {
		err = ErrLinkClosed
	}

	r.mu.Lock()
	if r.closed != nil {
		r.mu.Unlock()
		return
	}
	r.closed = err
	pending := r.pending
	r.pending = make(map[RequestID]chan result)
	r.mu.Unlock()

	for id, ch := range pending {
		r.metrics.ChunkFailed("closed")
		ch <- result{err: err}
		r.logger.Debug("rejected pending request", "id", id, "error", err)
	}
}
