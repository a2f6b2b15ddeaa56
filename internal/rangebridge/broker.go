package rangebridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrBrokerClosed is returned by Fetch once the broker is closed.
var ErrBrokerClosed = errors.New("range broker closed")

// BrokerID correlates one Fetch with its answer. It is local to a Broker and
// unrelated to the ids the chunk protocol puts on the wire.
type BrokerID uint64

// Call is a fetch waiting for the session to answer it.
type Call struct {
	ID     BrokerID
	Offset int64
}

// Puller fetches one segment over the peer link. *chunk.Requester
// satisfies it.
type Puller interface {
	Request(ctx context.Context, offset int64) ([]byte, error)
}

type answer struct {
	data []byte
	err  error
}

// Broker hands fetches from HTTP handler goroutines to whichever session
// currently owns the peer link, and routes the answers back.
type Broker struct {
	nextID atomic.Uint64
	calls  chan Call

	mu      sync.Mutex
	pending map[BrokerID]chan answer
	closed  bool
	done    chan struct{}
}

func NewBroker() *Broker {
	return &Broker{
		calls:   make(chan Call),
		pending: make(map[BrokerID]chan answer),
		done:    make(chan struct{}),
	}
}

// Fetch asks for the segment at offset and waits for the answer.
func (b *Broker) Fetch(ctx context.Context, offset int64) ([]byte, error) {
	id := BrokerID(b.nextID.Add(1))
	ch := make(chan answer, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.pending[id] = ch
	b.mu.Unlock()
	defer b.forget(id)

	select {
	case b.calls <- Call{ID: id, Offset: offset}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrBrokerClosed
	}

	select {
	case a := <-ch:
		return a.data, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrBrokerClosed
	}
}

func (b *Broker) forget(id BrokerID) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Calls yields fetches in arrival order.
func (b *Broker) Calls() <-chan Call { return b.calls }

// Resolve answers call id. It reports false when the caller already left.
func (b *Broker) Resolve(id BrokerID, data []byte, err error) bool {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if ok {
		ch <- answer{data: data, err: err}
	}
	return ok
}

// Serve answers calls through p until ctx ends. Each call runs on its own
// goroutine so a slow segment does not hold up the others.
func (b *Broker) Serve(ctx context.Context, p Puller) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrBrokerClosed
		case call := <-b.calls:
			wg.Add(1)
			go func(call Call) {
				defer wg.Done()
				data, err := p.Request(ctx, call.Offset)
				b.Resolve(call.ID, data, err)
			}(call)
		}
	}
}

// Close fails every current and future Fetch.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
}
