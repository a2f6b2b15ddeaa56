package feeder

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/util"
)

var (
	// ErrClosed is returned by Push after the feeder stopped.
	ErrClosed = errors.New("feeder closed")
	// ErrSinkNotOpen is reported when a sink refuses an append because it
	// is not ready.
	ErrSinkNotOpen = errors.New("playback sink not open")
)

// Sink is the playback buffer chunks are appended to. Append starts one
// append and reports completion through done, possibly from another
// goroutine. The Feeder never starts a second append before done ran.
type Sink interface {
	Append(chunk []byte, done func(error)) error
}

// Policy decides what happens to chunks that arrive before the sink opened.
type Policy int

const (
	PolicyDrop Policy = iota
	PolicyBuffer
)

func (p Policy) String() string {
	if p == PolicyBuffer {
		return "buffer"
	}
	return "drop"
}

// ParsePolicy maps a config value to a Policy, defaulting to drop.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(s, "buffer") {
		return PolicyBuffer
	}
	return PolicyDrop
}

type Options struct {
	Policy Policy
	// MaxPending bounds the chunks kept before the sink opens under
	// PolicyBuffer. Zero means 64.
	MaxPending int
	Metrics    metrics.Collector
}

type msgKind int

const (
	msgPush msgKind = iota
	msgOpened
)

type message struct {
	kind  msgKind
	chunk []byte
}

// Feeder feeds chunks into a Sink strictly in arrival order with at most
// one append in flight. All of its state lives in one goroutine.
type Feeder struct {
	sink       Sink
	policy     Policy
	maxPending int
	metrics    metrics.Collector
	logger     *slog.Logger

	inbox       chan message
	completions chan error

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	err      error

	depth    atomic.Int64
	appended atomic.Int64
	dropped  atomic.Int64
}

// New starts a feeder for sink.
func New(sink Sink, opts Options) *Feeder {
	maxPending := opts.MaxPending
	if maxPending <= 0 {
		maxPending = 64
	}
	f := &Feeder{
		sink:        sink,
		policy:      opts.Policy,
		maxPending:  maxPending,
		metrics:     metrics.OrNoop(opts.Metrics),
		logger:      util.ComponentLogger("feeder"),
		inbox:       make(chan message, 256),
		completions: make(chan error, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go f.run()
	return f
}

// Push hands one chunk to the feeder. It blocks only while the inbox is
// full.
func (f *Feeder) Push(chunk []byte) error {
	select {
	case <-f.done:
		return ErrClosed
	default:
	}
	select {
	case f.inbox <- message{kind: msgPush, chunk: chunk}:
		return nil
	case <-f.done:
		return ErrClosed
	}
}

// SinkOpened tells the feeder the sink accepts appends from now on.
func (f *Feeder) SinkOpened() {
	select {
	case f.inbox <- message{kind: msgOpened}:
	case <-f.done:
	}
}

// Close tears the feeder down and discards anything still queued.
func (f *Feeder) Close() {
	f.quitOnce.Do(func() { close(f.quit) })
	<-f.done
}

// Done is closed when the feeder stopped, after Close or a sink error.
func (f *Feeder) Done() <-chan struct{} { return f.done }

// Err returns the sink error that stopped the feeder, if any. It is only
// meaningful after Done is closed.
func (f *Feeder) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Stats reports queued chunks, completed appends and dropped chunks.
func (f *Feeder) Stats() (queued, appended, dropped int64) {
	return f.depth.Load(), f.appended.Load(), f.dropped.Load()
}

func (f *Feeder) run() {
	var (
		queue [][]byte
		open  bool
		busy  bool
	)
	defer close(f.done)

	setDepth := func() {
		f.depth.Store(int64(len(queue)))
		f.metrics.FeederQueueDepth(len(queue))
	}

	appendChunk := func(chunk []byte) bool {
		busy = true
		err := f.sink.Append(chunk, func(err error) {
			// one append in flight, so this never blocks
			f.completions <- err
		})
		if err != nil {
			f.err = fmt.Errorf("append to sink: %w", err)
			f.logger.Error("sink append failed", "error", err)
			return false
		}
		f.metrics.FeederAppended(len(chunk))
		return true
	}

	for {
		select {
		case <-f.quit:
			f.depth.Store(0)
			f.metrics.FeederQueueDepth(0)
			return

		case err := <-f.completions:
			busy = false
			f.appended.Add(1)
			if err != nil {
				f.err = fmt.Errorf("sink append finished with error: %w", err)
				f.logger.Error("sink append failed", "error", err)
				return
			}
			if len(queue) > 0 {
				next := queue[0]
				queue[0] = nil
				queue = queue[1:]
				setDepth()
				if !appendChunk(next) {
					return
				}
			}

		case msg := <-f.inbox:
			switch msg.kind {
			case msgOpened:
				if open {
					continue
				}
				open = true
				f.logger.Debug("sink opened", "queued", len(queue))
				if !busy && len(queue) > 0 {
					next := queue[0]
					queue[0] = nil
					queue = queue[1:]
					setDepth()
					if !appendChunk(next) {
						return
					}
				}

			case msgPush:
				if !open {
					if f.policy == PolicyDrop || len(queue) >= f.maxPending {
						f.dropped.Add(1)
						f.metrics.FeederDropped()
						f.logger.Debug("dropping chunk, sink not open", "bytes", len(msg.chunk))
						continue
					}
					queue = append(queue, msg.chunk)
					setDepth()
					continue
				}
				if !busy && len(queue) == 0 {
					if !appendChunk(msg.chunk) {
						return
					}
					continue
				}
				queue = append(queue, msg.chunk)
				setDepth()
			}
		}
	}
}
