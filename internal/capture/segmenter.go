package capture

import (
	"context"
	"errors"
	"io"
	"time"
)

// MaxSegmentLimit is the largest segment a Segmenter emits; one segment
// must fit one data channel frame.
const MaxSegmentLimit = 64 * 1024

// Segmenter cuts a live byte stream into segments, flushing every Interval
// or as soon as MaxSegment bytes accumulate.
type Segmenter struct {
	Interval   time.Duration
	MaxSegment int
}

func NewSegmenter(interval time.Duration, maxSegment int) *Segmenter {
	if maxSegment <= 0 || maxSegment > MaxSegmentLimit {
		maxSegment = MaxSegmentLimit
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Segmenter{Interval: interval, MaxSegment: maxSegment}
}

type readResult struct {
	data []byte
	err  error
}

// Run reads r until EOF or ctx ends, sending segments to out in stream
// order. It closes out before returning. EOF is not an error.
func (s *Segmenter) Run(ctx context.Context, r io.Reader, out chan<- []byte) error {
	defer close(out)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reads := make(chan readResult)
	go func() {
		for {
			buf := make([]byte, s.MaxSegment)
			n, err := r.Read(buf)
			select {
			case reads <- readResult{data: buf[:n], err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	var pending []byte
	emit := func(seg []byte) error {
		select {
		case out <- seg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	flush := func(all bool) error {
		for len(pending) >= s.MaxSegment || (all && len(pending) > 0) {
			n := min(len(pending), s.MaxSegment)
			seg := make([]byte, n)
			copy(seg, pending[:n])
			pending = pending[n:]
			if err := emit(seg); err != nil {
				return err
			}
		}
		if len(pending) == 0 {
			pending = nil
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := flush(true); err != nil {
				return err
			}
		case res := <-reads:
			pending = append(pending, res.data...)
			if err := flush(false); err != nil {
				return err
			}
			if res.err != nil {
				if err := flush(true); err != nil {
					return err
				}
				if errors.Is(res.err, io.EOF) {
					return nil
				}
				return res.err
			}
		}
	}
}
