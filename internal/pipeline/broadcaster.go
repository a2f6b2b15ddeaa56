package pipeline

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/babelcloud/browsercast/internal/util"
)

// maxInitScan bounds how much of a stream is held while looking for the
// init segment.
const maxInitScan = 1024 * 1024

const (
	// defaultSendTimeout is how long one viewer may stall a chunk before it
	// is dropped.
	defaultSendTimeout = 2 * time.Second
	// defaultViewerWait is how long the first chunk of a stream waits for a
	// player to connect.
	defaultViewerWait = 5 * time.Second
)

// ErrBroadcasterClosed is returned by Append after Close.
var ErrBroadcasterClosed = errors.New("broadcaster closed")

type subscriber struct {
	ch     chan []byte
	quit   chan struct{}
	synced bool
	leave  sync.Once
	finish sync.Once
}

func (s *subscriber) stop() { s.leave.Do(func() { close(s.quit) }) }

// Broadcaster fans the push-mode stream out to every HTTP player. It picks
// the fMP4 init segment (ftyp+moov) off the front of the stream. A player
// that joins mid-stream is held back until the next moof box starts, then
// gets the init segment followed by the stream from that box on.
type Broadcaster struct {
	// sendMu serializes deliveries. Subscriber channels are only closed
	// while it is held. Lock order is sendMu, then mu.
	sendMu sync.Mutex

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	generation  uint64
	initSegment []byte
	head        []byte
	scanning    bool
	walker      boxWalker
	bytesIn     int64
	closed      bool
	done        chan struct{}

	// first viewer of the current generation
	viewerReady chan struct{}
	viewerSeen  bool
	waited      bool

	sendTimeout time.Duration
	viewerWait  time.Duration
}

// NewBroadcaster creates a new broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		scanning:    true,
		done:        make(chan struct{}),
		viewerReady: make(chan struct{}),
		sendTimeout: defaultSendTimeout,
		viewerWait:  defaultViewerWait,
	}
}

// Reset starts a new stream: the cached init segment is forgotten and every
// current subscriber is closed so players reconnect to the new one.
func (b *Broadcaster) Reset() {
	b.mu.Lock()
	old := b.subscribers
	b.subscribers = make(map[string]*subscriber)
	for _, s := range old {
		s.stop()
	}
	b.generation++
	b.initSegment = nil
	b.head = nil
	b.scanning = true
	b.walker = boxWalker{}
	b.bytesIn = 0
	if !b.viewerSeen {
		close(b.viewerReady)
	}
	b.viewerReady = make(chan struct{})
	b.viewerSeen, b.waited = false, false
	gen := b.generation
	b.mu.Unlock()

	b.finish(old)
	util.GetLogger().Info("Broadcaster reset", "generation", gen, "closed", len(old))
}

// Generation counts resets. Players compare it to notice a new stream.
func (b *Broadcaster) Generation() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.generation
}

// InitSegment returns the cached init segment, if one was seen.
func (b *Broadcaster) InitSegment() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initSegment
}

// Subscribe adds a subscriber and returns its id and channel. The channel
// is closed when the subscriber is dropped, on Reset and on Close.
func (b *Broadcaster) Subscribe(bufferSize int) (string, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	if b.closed {
		ch := make(chan []byte)
		close(ch)
		return id, ch
	}

	s := &subscriber{
		ch:   make(chan []byte, bufferSize),
		quit: make(chan struct{}),
		// nothing sent yet, so the stream start is a clean boundary
		synced: b.bytesIn == 0,
	}
	b.subscribers[id] = s
	if !b.viewerSeen {
		b.viewerSeen = true
		close(b.viewerReady)
	}

	util.GetLogger().Info("New subscriber added", "id", id, "synced", s.synced, "total", len(b.subscribers))
	return id, s.ch
}

// Unsubscribe removes a subscriber. Its channel is left open; the caller
// has stopped reading it.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, exists := b.subscribers[id]; exists {
		s.stop()
		delete(b.subscribers, id)
		util.GetLogger().Info("Subscriber removed", "id", id, "remaining", len(b.subscribers))
	}
}

// Append implements the feeder sink contract. done runs once every viewer
// took the chunk or was dropped, so a slow player keeps the feeder busy and
// chunks queue there. The first chunk of a stream waits for a viewer.
func (b *Broadcaster) Append(chunk []byte, done func(error)) error {
	b.mu.RLock()
	closed, gen := b.closed, b.generation
	b.mu.RUnlock()
	if closed {
		return ErrBroadcasterClosed
	}

	go func() {
		b.awaitViewer(gen)
		b.broadcast(gen, chunk)
		done(nil)
	}()
	return nil
}

func (b *Broadcaster) awaitViewer(gen uint64) {
	b.mu.RLock()
	ready, waited, current := b.viewerReady, b.waited, b.generation == gen
	b.mu.RUnlock()
	if waited || !current {
		return
	}

	timer := time.NewTimer(b.viewerWait)
	defer timer.Stop()
	select {
	case <-ready:
	case <-b.done:
	case <-timer.C:
		util.GetLogger().Warn("No live viewer connected, streaming without one", "waited", b.viewerWait)
	}

	b.mu.Lock()
	if b.generation == gen {
		b.waited = true
	}
	b.mu.Unlock()
}

// publish sends data to the current stream's subscribers.
func (b *Broadcaster) publish(data []byte) {
	b.mu.RLock()
	gen := b.generation
	b.mu.RUnlock()
	b.broadcast(gen, data)
}

type delivery struct {
	id   string
	sub  *subscriber
	msgs [][]byte
}

func (b *Broadcaster) broadcast(gen uint64, data []byte) {
	if len(data) == 0 {
		return
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	if b.closed || b.generation != gen {
		// a chunk of a stream that was reset
		b.mu.Unlock()
		return
	}
	b.bytesIn += int64(len(data))
	if b.scanning {
		b.head = append(b.head, data...)
		if init, _, found := ExtractInitSegment(b.head); found {
			b.initSegment = append([]byte(nil), init...)
			b.scanning, b.head = false, nil
			util.GetLogger().Info("Broadcaster init segment cached", "size", len(b.initSegment))
		} else if len(b.head) > maxInitScan {
			b.scanning, b.head = false, nil
			util.GetLogger().Warn("No init segment at stream start, late subscribers may not decode")
		}
	}

	prefix, at, found := b.walker.walk(data)
	if !found && b.walker.broken {
		// not box structured; best effort is to join anywhere
		prefix, at, found = nil, 0, true
	}

	deliveries := make([]delivery, 0, len(b.subscribers))
	for id, s := range b.subscribers {
		if s.synced {
			deliveries = append(deliveries, delivery{id: id, sub: s, msgs: [][]byte{data}})
			continue
		}
		if !found {
			continue
		}
		s.synced = true
		var msgs [][]byte
		if len(b.initSegment) > 0 {
			msgs = append(msgs, b.initSegment)
		}
		frag := make([]byte, 0, len(prefix)+len(data)-at)
		frag = append(append(frag, prefix...), data[at:]...)
		msgs = append(msgs, frag)
		deliveries = append(deliveries, delivery{id: id, sub: s, msgs: msgs})
		util.GetLogger().Debug("Subscriber joined at fragment boundary", "id", id)
	}
	timeout := b.sendTimeout
	b.mu.Unlock()

	var (
		wg      sync.WaitGroup
		dropMu  sync.Mutex
		dropped []string
	)
	for _, d := range deliveries {
		wg.Add(1)
		go func(d delivery) {
			defer wg.Done()
			if !deliver(d.sub, d.msgs, timeout) {
				dropMu.Lock()
				dropped = append(dropped, d.id)
				dropMu.Unlock()
			}
		}(d)
	}
	wg.Wait()

	if len(dropped) == 0 {
		return
	}
	gone := make(map[string]*subscriber, len(dropped))
	b.mu.Lock()
	for _, id := range dropped {
		if s, exists := b.subscribers[id]; exists {
			s.stop()
			delete(b.subscribers, id)
			gone[id] = s
			util.GetLogger().Warn("Dropping subscriber that stopped reading", "id", id, "timeout", timeout)
		}
	}
	b.mu.Unlock()
	for _, s := range gone {
		s.finish.Do(func() { close(s.ch) })
	}
}

// deliver reports false when the subscriber stalled past timeout.
func deliver(s *subscriber, msgs [][]byte, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, m := range msgs {
		select {
		case s.ch <- m:
		case <-s.quit:
			return true
		case <-timer.C:
			return false
		}
	}
	return true
}

// finish closes the channels of subscribers already stopped and removed.
func (b *Broadcaster) finish(subs map[string]*subscriber) {
	if len(subs) == 0 {
		return
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	for _, s := range subs {
		s.finish.Do(func() { close(s.ch) })
	}
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	old := b.subscribers
	b.subscribers = make(map[string]*subscriber)
	for _, s := range old {
		s.stop()
	}
	b.mu.Unlock()

	b.finish(old)
	util.GetLogger().Info("Broadcaster closed")
}

// SubscriberCount returns the current number of subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// BytesIn returns how many stream bytes arrived since the last Reset.
func (b *Broadcaster) BytesIn() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bytesIn
}

// boxWalker follows top-level ISO BMFF box headers across chunk
// boundaries.
type boxWalker struct {
	header []byte // header bytes carried from the previous chunk
	skip   int64  // body bytes left in the current box
	broken bool   // the stream stopped parsing as boxes
}

func (w *boxWalker) headerLen() int {
	if len(w.header) >= 4 && binary.BigEndian.Uint32(w.header[:4]) == 1 {
		return 16
	}
	return 8
}

// walk advances over chunk and reports where the first top-level moof box
// starts in it. When that box's header began in an earlier chunk, prefix
// holds the carried bytes and at is 0.
func (w *boxWalker) walk(chunk []byte) (prefix []byte, at int, found bool) {
	pos := 0
	for pos < len(chunk) && !w.broken {
		if w.skip > 0 {
			n := int64(len(chunk) - pos)
			if w.skip < n {
				n = w.skip
			}
			w.skip -= n
			pos += int(n)
			continue
		}

		start := pos
		var carried []byte
		if len(w.header) > 0 {
			carried = append([]byte(nil), w.header...)
		}
		for need := w.headerLen(); len(w.header) < need && pos < len(chunk); need = w.headerLen() {
			take := need - len(w.header)
			if rest := len(chunk) - pos; take > rest {
				take = rest
			}
			w.header = append(w.header, chunk[pos:pos+take]...)
			pos += take
		}
		hl := w.headerLen()
		if len(w.header) < hl {
			break
		}

		size := uint64(binary.BigEndian.Uint32(w.header[:4]))
		if size == 1 {
			size = binary.BigEndian.Uint64(w.header[8:16])
		}
		kind := string(w.header[4:8])
		w.header = w.header[:0]
		if size < uint64(hl) {
			// size 0 runs to the end of the stream; there is no next box
			w.broken = true
			break
		}
		if kind == "moof" && !found {
			found = true
			if carried != nil {
				prefix, at = carried, 0
			} else {
				at = start
			}
		}
		w.skip = int64(size) - int64(hl)
	}
	return prefix, at, found
}

// ExtractInitSegment splits the fMP4 init segment (everything up to and
// including moov) off the front of data.
func ExtractInitSegment(data []byte) (initSegment []byte, remaining []byte, found bool) {
	var offset int
	var foundFtyp bool

	for offset+8 <= len(data) {
		size := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		if size < 8 || offset+size > len(data) {
			break
		}

		switch string(data[offset+4 : offset+8]) {
		case "ftyp":
			foundFtyp = true
		case "moov":
			if !foundFtyp {
				return nil, data, false
			}
			end := offset + size
			return data[:end], data[end:], true
		case "moof", "mdat":
			// media before the init segment is complete
			return nil, data, false
		}

		offset += size
	}

	return nil, data, false
}
