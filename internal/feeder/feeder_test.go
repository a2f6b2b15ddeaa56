package feeder

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/browsercast/internal/pipeline"
)

// manualSink lets the test decide when each append completes.
type manualSink struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	got         []string
	refuse      error

	started chan func(error)
}

func newManualSink() *manualSink {
	return &manualSink{started: make(chan func(error), 16)}
}

func (s *manualSink) Append(chunk []byte, done func(error)) error {
	s.mu.Lock()
	if s.refuse != nil {
		s.mu.Unlock()
		return s.refuse
	}
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.got = append(s.got, string(chunk))
	s.mu.Unlock()

	s.started <- func(err error) {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
		done(err)
	}
	return nil
}

func (s *manualSink) appended() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func (s *manualSink) next(t *testing.T) func(error) {
	t.Helper()
	select {
	case complete := <-s.started:
		return complete
	case <-time.After(2 * time.Second):
		t.Fatal("no append started")
		return nil
	}
}

func (s *manualSink) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case <-s.started:
		t.Fatal("append started while another was in flight")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeederAppendsOneAtATimeInOrder(t *testing.T) {
	sink := newManualSink()
	f := New(sink, Options{})
	defer f.Close()

	f.SinkOpened()
	require.NoError(t, f.Push([]byte("A")))
	require.NoError(t, f.Push([]byte("B")))
	require.NoError(t, f.Push([]byte("C")))

	completeA := sink.next(t)
	sink.assertIdle(t)
	assert.Equal(t, []string{"A"}, sink.appended())

	completeA(nil)
	completeB := sink.next(t)
	sink.assertIdle(t)
	assert.Equal(t, []string{"A", "B"}, sink.appended())

	completeB(nil)
	sink.next(t)(nil)

	assert.Equal(t, []string{"A", "B", "C"}, sink.appended())
	assert.Equal(t, 1, sink.maxInFlight)

	assert.Eventually(t, func() bool {
		_, appended, _ := f.Stats()
		return appended == 3
	}, time.Second, 5*time.Millisecond)
}

func TestFeederDropsChunksBeforeOpen(t *testing.T) {
	sink := newManualSink()
	f := New(sink, Options{Policy: PolicyDrop})
	defer f.Close()

	require.NoError(t, f.Push([]byte("early")))
	f.SinkOpened()
	require.NoError(t, f.Push([]byte("late")))

	sink.next(t)(nil)
	assert.Equal(t, []string{"late"}, sink.appended())

	_, _, dropped := f.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestFeederBuffersChunksBeforeOpen(t *testing.T) {
	sink := newManualSink()
	f := New(sink, Options{Policy: PolicyBuffer, MaxPending: 2})
	defer f.Close()

	for _, c := range []string{"init", "one", "overflow"} {
		require.NoError(t, f.Push([]byte(c)))
	}
	sink.assertIdle(t)

	f.SinkOpened()
	f.SinkOpened()
	sink.next(t)(nil)
	sink.next(t)(nil)
	sink.assertIdle(t)

	assert.Equal(t, []string{"init", "one"}, sink.appended())
	_, _, dropped := f.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestFeederStopsOnSinkError(t *testing.T) {
	sink := newManualSink()
	f := New(sink, Options{})
	defer f.Close()

	f.SinkOpened()
	require.NoError(t, f.Push([]byte("A")))
	require.NoError(t, f.Push([]byte("B")))

	sink.next(t)(errors.New("quota exceeded"))

	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("feeder kept running after a sink error")
	}
	assert.ErrorContains(t, f.Err(), "quota exceeded")
	assert.ErrorIs(t, f.Push([]byte("C")), ErrClosed)
	assert.Equal(t, []string{"A"}, sink.appended())
}

func TestFeederStopsWhenSinkRefuses(t *testing.T) {
	sink := newManualSink()
	sink.refuse = ErrSinkNotOpen
	f := New(sink, Options{})
	defer f.Close()

	f.SinkOpened()
	require.NoError(t, f.Push([]byte("A")))

	<-f.Done()
	assert.ErrorIs(t, f.Err(), ErrSinkNotOpen)
}

func TestFeederCloseDiscardsQueue(t *testing.T) {
	sink := newManualSink()
	f := New(sink, Options{})

	f.SinkOpened()
	require.NoError(t, f.Push([]byte("A")))
	require.NoError(t, f.Push([]byte("B")))
	completeA := sink.next(t)

	f.Close()
	completeA(nil)

	assert.NoError(t, f.Err())
	assert.ErrorIs(t, f.Push([]byte("C")), ErrClosed)
	assert.Equal(t, []string{"A"}, sink.appended())
	queued, _, _ := f.Stats()
	assert.Zero(t, queued)
}

func TestBroadcasterSinkKeepsOrderUnderBackpressure(t *testing.T) {
	live := pipeline.NewBroadcaster()
	defer live.Close()
	_, viewer := live.Subscribe(2)

	f := New(live, Options{Policy: PolicyBuffer})
	defer f.Close()

	var want bytes.Buffer
	for i := 0; i < 50; i++ {
		chunk := []byte(fmt.Sprintf("chunk-%02d;", i))
		want.Write(chunk)
		require.NoError(t, f.Push(chunk))
	}
	f.SinkOpened()

	// the viewer reads slowly, so chunks wait in the feeder queue
	var got bytes.Buffer
	for got.Len() < want.Len() {
		select {
		case data := <-viewer:
			got.Write(data)
			time.Sleep(time.Millisecond)
		case <-time.After(2 * time.Second):
			t.Fatalf("stalled after %d bytes", got.Len())
		}
	}
	assert.Equal(t, want.String(), got.String())

	require.Eventually(t, func() bool {
		_, appended, dropped := f.Stats()
		return appended == 50 && dropped == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, PolicyBuffer, ParsePolicy("BUFFER"))
	assert.Equal(t, PolicyDrop, ParsePolicy("drop"))
	assert.Equal(t, PolicyDrop, ParsePolicy("whatever"))
}
