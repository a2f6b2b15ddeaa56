package chunk

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/util"
)

// ResponderOptions configures a Responder.
type ResponderOptions struct {
	// SegmentSize is the most bytes one response carries. Zero means
	// DefaultSegmentSize.
	SegmentSize int
	Metrics     metrics.Collector
}

// Responder is the controller half of pull mode: it answers each request
// frame with the segment of the source at the requested offset.
type Responder struct {
	link        Sender
	source      Source
	segmentSize int
	metrics     metrics.Collector
	logger      *slog.Logger

	// keeps a legacy id/payload pair adjacent
	sendMu sync.Mutex
}

func NewResponder(link Sender, source Source, opts ResponderOptions) *Responder {
	size := opts.SegmentSize
	if size <= 0 {
		size = DefaultSegmentSize
	}
	if size > MaxFrameSize {
		size = MaxFrameSize
	}
	return &Responder{
		link:        link,
		source:      source,
		segmentSize: size,
		metrics:     metrics.OrNoop(opts.Metrics),
		logger:      util.ComponentLogger("responder"),
	}
}

// HandleFrame answers one request frame. Binary frames are not requests
// and are rejected.
func (r *Responder) HandleFrame(data []byte, isText bool) error {
	if !isText {
		return fmt.Errorf("%w: responder got a binary frame", ErrMalformedFrame)
	}
	req, err := DecodeRequest(data)
	if err != nil {
		return err
	}
	return r.Serve(req)
}

// Serve reads the segment for req and sends it. Reads past the end of the
// source are clamped, so a request at or after EOF is answered with an
// empty payload.
func (r *Responder) Serve(req Request) error {
	size := r.segmentSize
	if req.Framed && size > MaxFrameSize-HeaderSize {
		size = MaxFrameSize - HeaderSize
	}

	buf := make([]byte, size)
	n, err := r.source.ReadAt(buf, req.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read %d bytes at %d: %w", size, req.Offset, err)
	}
	payload := buf[:n]

	r.logger.Debug("serving segment", "id", req.ID, "offset", req.Offset, "bytes", n, "framed", req.Framed)

	if req.Framed {
		frame, err := EncodeEnvelope(req.ID, payload)
		if err != nil {
			return err
		}
		if err := r.link.SendBinary(frame); err != nil {
			return fmt.Errorf("send response %d: %w", req.ID, err)
		}
	} else {
		r.sendMu.Lock()
		defer r.sendMu.Unlock()
		if err := r.link.SendText(EncodeLegacyID(req.ID)); err != nil {
			return fmt.Errorf("send response id %d: %w", req.ID, err)
		}
		if err := r.link.SendBinary(payload); err != nil {
			return fmt.Errorf("send response %d: %w", req.ID, err)
		}
	}
	r.metrics.ChunkServed(n)
	return nil
}
