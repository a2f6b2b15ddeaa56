package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s *Segmenter, r io.Reader) ([][]byte, error) {
	t.Helper()
	out := make(chan []byte, 64)
	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background(), r, out) }()

	var segs [][]byte
	for seg := range out {
		segs = append(segs, seg)
	}
	return segs, <-errc
}

func TestSegmenterNeverExceedsMaxSegment(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 10000)
	s := NewSegmenter(time.Hour, 4096)

	segs, err := collect(t, s, bytes.NewReader(data))
	require.NoError(t, err)

	var joined []byte
	for _, seg := range segs {
		assert.LessOrEqual(t, len(seg), 4096)
		assert.NotEmpty(t, seg)
		joined = append(joined, seg...)
	}
	assert.Equal(t, data, joined)
}

func TestSegmenterClampsMaxSegment(t *testing.T) {
	s := NewSegmenter(0, 1<<20)
	assert.Equal(t, MaxSegmentLimit, s.MaxSegment)
	assert.Equal(t, time.Second, s.Interval)
}

func TestSegmenterFlushesOnInterval(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewSegmenter(20*time.Millisecond, 4096)

	out := make(chan []byte, 8)
	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background(), pr, out) }()

	_, err := pw.Write([]byte("small"))
	require.NoError(t, err)

	select {
	case seg := <-out:
		assert.Equal(t, []byte("small"), seg)
	case <-time.After(2 * time.Second):
		t.Fatal("partial segment was not flushed on the interval")
	}

	pw.Close()
	require.NoError(t, <-errc)
}

type failingReader struct{ sent bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "tail"), errors.New("capture died")
	}
	return 0, io.EOF
}

func TestSegmenterFlushesBeforeReportingError(t *testing.T) {
	segs, err := collect(t, NewSegmenter(time.Hour, 1024), &failingReader{})

	assert.EqualError(t, err, "capture died")
	require.Len(t, segs, 1)
	assert.Equal(t, []byte("tail"), segs[0])
}

func TestSegmenterStopsOnCancel(t *testing.T) {
	pr, _ := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []byte)
	errc := make(chan error, 1)
	go func() { errc <- NewSegmenter(time.Hour, 1024).Run(ctx, pr, out) }()

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	_, open := <-out
	assert.False(t, open)
}

func TestFFmpegArgs(t *testing.T) {
	c := NewFFmpegCapture([]string{"-re", "-i", "movie.mkv"}, false)
	args := c.Args()
	assert.Equal(t, []string{"-hide_banner", "-loglevel", "error", "-re", "-i", "movie.mkv", "-c", "copy"}, args[:8])
	assert.Contains(t, args, "frag_keyframe+empty_moov+default_base_moof")
	assert.Equal(t, "pipe:1", args[len(args)-1])

	c.Transcode = true
	assert.Contains(t, c.Args(), "libx264")

	_, err := NewFFmpegCapture(nil, false).Start(context.Background())
	assert.Error(t, err)
}
