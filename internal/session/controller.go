package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/babelcloud/browsercast/internal/chunk"
	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/peer"
	"github.com/babelcloud/browsercast/internal/rangebridge"
	"github.com/babelcloud/browsercast/internal/signaling"
	"github.com/babelcloud/browsercast/internal/util"
	"github.com/babelcloud/browsercast/internal/version"
)

// ErrSessionEnded is returned when the other side stopped or left.
var ErrSessionEnded = errors.New("cast session ended")

// MediaItem is what the controller casts: a random-access Source served in
// pull mode, or a Live segment stream pushed as it is produced.
type MediaItem struct {
	Title  string
	MIME   string
	Source chunk.Source
	Live   <-chan []byte
}

func (m MediaItem) mode() string {
	if m.Source != nil {
		return signaling.ModePull
	}
	return signaling.ModePush
}

func (m MediaItem) path() string {
	if m.Source != nil {
		return fmt.Sprintf("%s?size=%d", rangebridge.ResourceName, m.Source.Size())
	}
	return "live"
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Links       LinkFactory
	SegmentSize int
	Metrics     metrics.Collector
	// OnConnect runs once the peer link is up, e.g. to stop a spinner.
	OnConnect func()
}

// Controller owns the sending side of a cast: it bootstraps the peer link
// through the cast session and serves the media over it.
type Controller struct {
	cast   signaling.CastSession
	opts   ControllerOptions
	logger *slog.Logger

	mu         sync.Mutex
	lastStatus signaling.Status
}

func NewController(cast signaling.CastSession, opts ControllerOptions) *Controller {
	opts.Metrics = metrics.OrNoop(opts.Metrics)
	return &Controller{
		cast:   cast,
		opts:   opts,
		logger: util.ComponentLogger("controller"),
	}
}

// LastStatus returns the most recent playback report from the display.
func (c *Controller) LastStatus() signaling.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// SendControl asks the display to change playback: play, pause, seek,
// volume or stop.
func (c *Controller) SendControl(ctx context.Context, control signaling.Control) error {
	return c.cast.SendControl(ctx, control)
}

// Cast runs one session: it waits for the display, connects the link, loads
// item and serves it until either side ends the session. Every exit path
// stops the cast session and destroys the link.
func (c *Controller) Cast(ctx context.Context, item MediaItem) error {
	if item.Source == nil && item.Live == nil {
		return errors.New("nothing to cast")
	}

	if err := c.waitForDisplay(ctx); err != nil {
		return err
	}

	link, err := c.opts.Links(peer.RoleInitiator)
	if err != nil {
		c.cast.Stop()
		return errors.Wrap(err, "failed to create peer link")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	teardown := func(reason string) {
		c.logger.Info("tearing down cast", "reason", reason)
		cancel()
		if err := c.cast.Stop(); err != nil {
			c.logger.Debug("cast session stop failed", "error", err)
		}
		link.Destroy()
	}

	var responder *chunk.Responder
	pushDone := make(chan error, 1)

	for {
		select {
		case <-ctx.Done():
			teardown("cancelled")
			return ctx.Err()

		case <-c.cast.Done():
			teardown("cast session ended")
			return nil

		case ev := <-c.cast.Peers():
			if !ev.Joined {
				teardown("display left")
				return ErrSessionEnded
			}

		case payload := <-c.cast.Signals():
			if err := link.AcceptSignal(payload); err != nil {
				teardown("negotiation failed")
				return errors.Wrap(err, "failed to apply remote signal")
			}

		case status := <-c.cast.Statuses():
			c.mu.Lock()
			c.lastStatus = status
			c.mu.Unlock()

		case err := <-pushDone:
			if err != nil && ctx.Err() == nil {
				teardown("push failed")
				return errors.Wrap(err, "live push failed")
			}
			teardown("live stream finished")
			return nil

		case ev := <-link.Events():
			switch ev.Kind {
			case peer.EventSignal:
				if err := c.cast.SendSignal(ctx, ev.Signal); err != nil {
					teardown("signal delivery failed")
					return errors.Wrap(err, "failed to send signal")
				}

			case peer.EventConnect:
				c.logger.Info("peer link connected", "mode", item.mode())
				if c.opts.OnConnect != nil {
					c.opts.OnConnect()
				}
				if item.Source != nil {
					responder = chunk.NewResponder(link, item.Source, chunk.ResponderOptions{
						SegmentSize: c.opts.SegmentSize,
						Metrics:     c.opts.Metrics,
					})
				}
				if err := c.cast.Load(ctx, c.mediaInfo(item)); err != nil {
					teardown("load failed")
					return errors.Wrap(err, "failed to load media on display")
				}
				if item.Source == nil {
					pusher := chunk.NewPusher(link, c.opts.Metrics)
					go func() { pushDone <- pusher.Run(ctx, item.Live) }()
				}

			case peer.EventData:
				if responder == nil {
					c.logger.Debug("ignoring frame, nothing to serve", "bytes", len(ev.Data))
					continue
				}
				// slow reads must not stall the session loop
				go func(data []byte, isText bool) {
					if err := responder.HandleFrame(data, isText); err != nil {
						c.logger.Warn("failed to answer request", "error", err)
					}
				}(ev.Data, ev.IsText)

			case peer.EventClose:
				if ended(c.cast.Done()) {
					teardown("cast session ended")
					return nil
				}
				teardown("peer link closed")
				return chunk.ErrLinkClosed

			case peer.EventError:
				teardown("peer link error")
				return errors.Wrap(ev.Err, "peer link failed")
			}
		}
	}
}

func (c *Controller) waitForDisplay(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.cast.Stop()
			return ctx.Err()
		case <-c.cast.Done():
			return ErrSessionEnded
		case ev := <-c.cast.Peers():
			if ev.Joined && ev.Role == signaling.RoleDisplay {
				c.logger.Info("display joined")
				return nil
			}
		}
	}
}

// mediaInfo builds the load message. Reloading the same media resumes from
// the last reported position.
func (c *Controller) mediaInfo(item MediaItem) signaling.MediaInfo {
	info := signaling.MediaInfo{
		Path:            item.path(),
		MIME:            item.MIME,
		Title:           item.Title,
		Mode:            item.mode(),
		ProtocolVersion: version.ProtocolVersion,
	}
	if info.MIME == "" {
		info.MIME = MIMEFromName(item.Title)
	}
	if item.Source != nil {
		info.Size = item.Source.Size()
	}

	last := c.LastStatus()
	if info.Mode == signaling.ModePull && last.Path == info.Path {
		info.CurrentTime = last.CurrentTime
	}
	return info
}

func ended(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
