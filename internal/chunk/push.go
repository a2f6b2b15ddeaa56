package chunk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/util"
)

// Pusher is the controller half of push mode: every segment goes out as an
// unsolicited binary frame, in order, with no header.
type Pusher struct {
	link    Sender
	metrics metrics.Collector
	logger  *slog.Logger
}

func NewPusher(link Sender, collector metrics.Collector) *Pusher {
	return &Pusher{
		link:    link,
		metrics: metrics.OrNoop(collector),
		logger:  util.ComponentLogger("pusher"),
	}
}

// Run sends segments until the channel closes or ctx ends. A send failure
// ends the run; nothing is retried.
func (p *Pusher) Run(ctx context.Context, segments <-chan []byte) error {
	var sent, bytes int
	defer func() {
		p.logger.Debug("push finished", "segments", sent, "bytes", bytes)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg, ok := <-segments:
			if !ok {
				return nil
			}
			if len(seg) == 0 {
				continue
			}
			if err := p.link.SendBinary(seg); err != nil {
				return fmt.Errorf("push segment %d: %w", sent, err)
			}
			sent++
			bytes += len(seg)
		}
	}
}
