package pipeline

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(kind string, payload int) []byte {
	b := make([]byte, 8+payload)
	binary.BigEndian.PutUint32(b, uint32(len(b)))
	copy(b[4:8], kind)
	return b
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestExtractInitSegment(t *testing.T) {
	ftyp, moov, moof := box("ftyp", 16), box("moov", 100), box("moof", 40)
	stream := concat(ftyp, moov, moof)

	init, rest, found := ExtractInitSegment(stream)
	require.True(t, found)
	assert.Equal(t, concat(ftyp, moov), init)
	assert.Equal(t, moof, rest)

	_, _, found = ExtractInitSegment(concat(ftyp, moov[:50]))
	assert.False(t, found, "moov is incomplete")

	_, _, found = ExtractInitSegment(concat(moof, ftyp, moov))
	assert.False(t, found, "media before init")

	_, _, found = ExtractInitSegment([]byte{0, 0})
	assert.False(t, found)
}

func TestBroadcasterReplaysInitToLateSubscriber(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ftyp, moov, moof, mdat := box("ftyp", 16), box("moov", 100), box("moof", 40), box("mdat", 60)

	// the init segment arrives split across chunks
	head := concat(ftyp, moov)
	b.publish(head[:30])
	b.publish(head[30:])
	b.publish(concat(moof, mdat))
	assert.Equal(t, head, b.InitSegment())

	_, ch := b.Subscribe(4)
	b.publish(mdat[:20])
	b.publish(mdat[20:])
	assert.Empty(t, ch, "held back until the next fragment")

	next := concat(moof, mdat)
	b.publish(next)
	assert.Equal(t, head, <-ch)
	assert.Equal(t, next, <-ch)
	assert.Equal(t, int64(len(head)+2*len(moof)+3*len(mdat)), b.BytesIn())
}

func TestBroadcasterLateSubscriberOnUnalignedChunks(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ftyp, moov, moof, mdat := box("ftyp", 16), box("moov", 92), box("moof", 42), box("mdat", 192)
	require.Len(t, ftyp, 24)
	require.Len(t, moov, 100)
	stream := concat(ftyp, moov, moof, mdat, moof, mdat)

	// the first split lands inside the moof box, 26 bytes into it
	b.publish(stream[:150])
	_, ch := b.Subscribe(4)
	b.publish(stream[150:])

	assert.Equal(t, concat(ftyp, moov), <-ch)
	got := <-ch
	assert.Equal(t, concat(moof, mdat), got, "starts on the second moof, not mid-box")
	assert.Equal(t, "moof", string(got[4:8]))
}

func TestBroadcasterJoinsOnHeaderSplitAcrossChunks(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ftyp, moov, moof, mdat := box("ftyp", 16), box("moov", 92), box("moof", 42), box("mdat", 192)
	b.publish(concat(ftyp, moov, moof, mdat))

	_, ch := b.Subscribe(4)
	// the next moof header straddles two chunks
	b.publish(moof[:3])
	b.publish(concat(moof[3:], mdat))

	assert.Equal(t, concat(ftyp, moov), <-ch)
	assert.Equal(t, concat(moof, mdat), <-ch)
}

func TestBoxWalkerLargeSize(t *testing.T) {
	large := make([]byte, 16+10)
	binary.BigEndian.PutUint32(large, 1)
	copy(large[4:8], "mdat")
	binary.BigEndian.PutUint64(large[8:16], uint64(len(large)))
	moof := box("moof", 4)

	var w boxWalker
	_, _, found := w.walk(large[:12])
	assert.False(t, found)
	prefix, at, found := w.walk(concat(large[12:], moof))
	require.True(t, found)
	assert.Nil(t, prefix)
	assert.Equal(t, len(large)-12, at)

	w = boxWalker{}
	_, _, found = w.walk([]byte{0, 0, 0, 0, 'm', 'd', 'a', 't', 1, 2})
	assert.False(t, found)
	assert.True(t, w.broken, "size 0 has no next box")
}

func TestBroadcasterDropsStalledSubscriber(t *testing.T) {
	b := NewBroadcaster()
	b.sendTimeout = 50 * time.Millisecond
	defer b.Close()

	_, slow := b.Subscribe(1)
	fastID, fast := b.Subscribe(8)

	b.publish([]byte("1"))
	b.publish([]byte("2"))

	assert.Equal(t, 1, b.SubscriberCount())
	assert.Equal(t, []byte("1"), <-slow)
	_, open := <-slow
	assert.False(t, open)

	assert.Equal(t, []byte("1"), <-fast)
	assert.Equal(t, []byte("2"), <-fast)

	b.Unsubscribe(fastID)
	assert.Zero(t, b.SubscriberCount())
}

func TestBroadcasterWaitsForSlowReader(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	_, ch := b.Subscribe(1)
	b.publish([]byte("1"))

	sent := make(chan struct{})
	go func() {
		b.publish([]byte("2"))
		close(sent)
	}()

	select {
	case <-sent:
		t.Fatal("broadcast did not wait for the full channel")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, []byte("1"), <-ch)
	<-sent
	assert.Equal(t, []byte("2"), <-ch)
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestBroadcasterAsSink(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe(1)

	done := make(chan error, 2)
	require.NoError(t, b.Append([]byte("a"), func(err error) { done <- err }))
	require.NoError(t, <-done)
	require.NoError(t, b.Append([]byte("b"), func(err error) { done <- err }))

	// the second append completes only once the viewer makes room
	select {
	case <-done:
		t.Fatal("append completed while the viewer was full")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, []byte("a"), <-ch)
	require.NoError(t, <-done)
	assert.Equal(t, []byte("b"), <-ch)

	b.Close()
	_, open := <-ch
	assert.False(t, open)
	assert.ErrorIs(t, b.Append([]byte("c"), func(error) {}), ErrBroadcasterClosed)

	_, closedCh := b.Subscribe(1)
	_, open = <-closedCh
	assert.False(t, open)
}

func TestBroadcasterAppendWaitsForFirstViewer(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	done := make(chan error, 1)
	require.NoError(t, b.Append([]byte("first"), func(err error) { done <- err }))
	select {
	case <-done:
		t.Fatal("append completed with nobody watching")
	case <-time.After(50 * time.Millisecond):
	}

	_, ch := b.Subscribe(4)
	require.NoError(t, <-done)
	assert.Equal(t, []byte("first"), <-ch)
}

func TestBroadcasterAppendGivesUpWaiting(t *testing.T) {
	b := NewBroadcaster()
	b.viewerWait = 20 * time.Millisecond
	defer b.Close()

	done := make(chan error, 1)
	require.NoError(t, b.Append([]byte("first"), func(err error) { done <- err }))
	require.NoError(t, <-done)
	assert.Equal(t, int64(5), b.BytesIn())
}

func TestBroadcasterReset(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	_, old := b.Subscribe(4)
	b.publish(concat(box("ftyp", 8), box("moov", 8)))
	require.NotNil(t, b.InitSegment())
	<-old

	b.Reset()
	assert.Nil(t, b.InitSegment())
	assert.Zero(t, b.BytesIn())
	assert.Equal(t, uint64(1), b.Generation())
	assert.Zero(t, b.SubscriberCount())
	_, open := <-old
	assert.False(t, open, "viewers of the old stream are cut off")

	// a viewer of the new stream starts at its first byte
	_, fresh := b.Subscribe(4)
	b.publish([]byte("new"))
	assert.Equal(t, []byte("new"), <-fresh)
}
