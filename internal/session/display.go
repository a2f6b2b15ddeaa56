package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/browsercast/internal/chunk"
	"github.com/babelcloud/browsercast/internal/feeder"
	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/peer"
	"github.com/babelcloud/browsercast/internal/pipeline"
	"github.com/babelcloud/browsercast/internal/rangebridge"
	"github.com/babelcloud/browsercast/internal/signaling"
	"github.com/babelcloud/browsercast/internal/util"
)

// DisplayOptions configures a Display.
type DisplayOptions struct {
	Links          LinkFactory
	Framing        chunk.Framing
	RequestTimeout time.Duration
	FeederPolicy   feeder.Policy
	MaxPending     int
	Metrics        metrics.Collector
	// OnLoad runs for every load message, e.g. to open the player page.
	OnLoad func(signaling.MediaInfo)
}

// DisplayState is a snapshot of the display for status reporting.
type DisplayState struct {
	Connected      bool                 `json:"connected"`
	Media          *signaling.MediaInfo `json:"media,omitempty"`
	PendingPulls   int                  `json:"pendingPulls"`
	QueuedChunks   int64                `json:"queuedChunks"`
	AppendedChunks int64                `json:"appendedChunks"`
	DroppedChunks  int64                `json:"droppedChunks"`
	LiveViewers    int                  `json:"liveViewers"`
	// LiveGeneration changes on every push load; the player reconnects
	// to /live when it does.
	LiveGeneration uint64               `json:"liveGeneration"`
	LiveReady      bool                 `json:"liveReady"`
	LiveBytes      int64                `json:"liveBytes"`
	Control        *ControlState        `json:"control,omitempty"`
}

// ControlState is the latest playback command from the controller. Seq
// grows by one per command so the player applies each exactly once.
type ControlState struct {
	Seq    uint64  `json:"seq"`
	Action string  `json:"action"`
	Time   float64 `json:"time,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

// Display owns the receiving side of a cast: it answers the controller's
// offer, then routes inbound frames to the Range Bridge (pull) or to the
// live broadcaster through the buffer feeder (push).
type Display struct {
	cast   signaling.CastSession
	broker *rangebridge.Broker
	live   *pipeline.Broadcaster
	opts   DisplayOptions
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	media     *signaling.MediaInfo
	requester *chunk.Requester
	feeder    *feeder.Feeder
	control   *ControlState
}

// NewDisplay creates a display. broker and live usually belong to the HTTP
// server and outlive the session.
func NewDisplay(cast signaling.CastSession, broker *rangebridge.Broker, live *pipeline.Broadcaster, opts DisplayOptions) *Display {
	opts.Metrics = metrics.OrNoop(opts.Metrics)
	return &Display{
		cast:   cast,
		broker: broker,
		live:   live,
		opts:   opts,
		logger: util.ComponentLogger("display"),
	}
}

// State returns a snapshot for the status endpoint.
func (d *Display) State() DisplayState {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := DisplayState{
		Connected:      d.connected,
		LiveViewers:    d.live.SubscriberCount(),
		LiveGeneration: d.live.Generation(),
		LiveReady:      d.live.InitSegment() != nil,
		LiveBytes:      d.live.BytesIn(),
	}
	if d.control != nil {
		c := *d.control
		st.Control = &c
	}
	if d.media != nil {
		m := *d.media
		st.Media = &m
	}
	if d.requester != nil {
		st.PendingPulls = d.requester.Pending()
	}
	if d.feeder != nil {
		st.QueuedChunks, st.AppendedChunks, st.DroppedChunks = d.feeder.Stats()
	}
	return st
}

// ReportProgress forwards playback progress from the player to the
// controller.
func (d *Display) ReportProgress(ctx context.Context, status signaling.Status) error {
	return d.cast.ReportStatus(ctx, status)
}

// Run serves one session until the link or the cast session ends. Every
// exit path rejects pending pulls, tears the feeder down, stops the cast
// session and destroys the link.
func (d *Display) Run(ctx context.Context) error {
	link, err := d.opts.Links(peer.RoleResponder)
	if err != nil {
		d.cast.Stop()
		return errors.Wrap(err, "failed to create peer link")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// a load replaces whatever the previous one started
	var loadCancel context.CancelFunc = func() {}
	var feederDone <-chan struct{}

	teardown := func(reason string) {
		d.logger.Info("tearing down display session", "reason", reason)
		d.mu.Lock()
		req, f := d.requester, d.feeder
		d.requester, d.feeder, d.connected = nil, nil, false
		d.mu.Unlock()
		if req != nil {
			req.Close(chunk.ErrLinkClosed)
		}
		loadCancel()
		if f != nil {
			f.Close()
		}
		cancel()
		if err := d.cast.Stop(); err != nil {
			d.logger.Debug("cast session stop failed", "error", err)
		}
		link.Destroy()
	}

	for {
		select {
		case <-ctx.Done():
			teardown("cancelled")
			return ctx.Err()

		case <-d.cast.Done():
			teardown("cast session ended")
			return nil

		case ev := <-d.cast.Peers():
			if !ev.Joined {
				teardown("controller left")
				return ErrSessionEnded
			}

		case payload := <-d.cast.Signals():
			if err := link.AcceptSignal(payload); err != nil {
				teardown("negotiation failed")
				return errors.Wrap(err, "failed to apply remote signal")
			}

		case media := <-d.cast.Loads():
			loadCancel()
			var loadCtx context.Context
			loadCtx, loadCancel = context.WithCancel(ctx)
			d.load(loadCtx, link, media)

		case c := <-d.cast.Controls():
			d.applyControl(c)

		case <-feederDone:
			d.mu.Lock()
			f := d.feeder
			d.mu.Unlock()
			var ferr error
			if f != nil {
				ferr = f.Err()
			}
			teardown("playback sink failed")
			return errors.Wrap(ferr, "playback sink failed")

		case ev := <-link.Events():
			switch ev.Kind {
			case peer.EventSignal:
				if err := d.cast.SendSignal(ctx, ev.Signal); err != nil {
					teardown("signal delivery failed")
					return errors.Wrap(err, "failed to send signal")
				}

			case peer.EventConnect:
				d.logger.Info("peer link connected")
				f := feeder.New(d.live, feeder.Options{
					Policy:     d.opts.FeederPolicy,
					MaxPending: d.opts.MaxPending,
					Metrics:    d.opts.Metrics,
				})
				d.mu.Lock()
				d.connected = true
				d.feeder = f
				pushLoaded := d.media != nil && d.media.Mode == signaling.ModePush
				d.mu.Unlock()
				feederDone = f.Done()
				if pushLoaded {
					f.SinkOpened()
				}

			case peer.EventData:
				d.route(ev)

			case peer.EventClose:
				if ended(d.cast.Done()) {
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

func (d *Display) load(ctx context.Context, link Link, media signaling.MediaInfo) {
	d.logger.Info("loading media", "title", media.Title, "mode", media.Mode, "path", media.Path, "mime", media.MIME)

	// viewers of the previous stream are cut off before the new load is visible
	if media.Mode == signaling.ModePush {
		d.live.Reset()
	}

	d.mu.Lock()
	old := d.requester
	d.requester = nil
	d.media = &media
	f := d.feeder
	if media.Mode == signaling.ModePull {
		d.requester = chunk.NewRequester(link, chunk.RequesterOptions{
			Framing: d.opts.Framing,
			Timeout: d.opts.RequestTimeout,
			Metrics: d.opts.Metrics,
		})
	}
	req := d.requester
	d.mu.Unlock()

	if old != nil {
		old.Close(chunk.ErrLinkClosed)
	}

	switch media.Mode {
	case signaling.ModePull:
		go func() {
			if err := d.broker.Serve(ctx, req); err != nil && ctx.Err() == nil {
				d.logger.Warn("range broker stopped", "error", err)
			}
		}()
	case signaling.ModePush:
		if f != nil {
			f.SinkOpened()
		}
	}

	if d.opts.OnLoad != nil {
		d.opts.OnLoad(media)
	}
}

func (d *Display) applyControl(c signaling.Control) {
	d.logger.Debug("playback control", "action", c.Action, "time", c.Time, "volume", c.Volume)
	d.mu.Lock()
	defer d.mu.Unlock()
	var seq uint64 = 1
	if d.control != nil {
		seq = d.control.Seq + 1
	}
	d.control = &ControlState{Seq: seq, Action: c.Action, Time: c.Time, Volume: c.Volume}
}

func (d *Display) route(ev peer.Event) {
	d.mu.Lock()
	var mode string
	if d.media != nil {
		mode = d.media.Mode
	}
	req, f := d.requester, d.feeder
	d.mu.Unlock()

	if mode == signaling.ModePull && req != nil {
		if err := req.HandleFrame(ev.Data, ev.IsText); err != nil {
			d.logger.Debug("discarding frame", "error", err)
		}
		return
	}
	if ev.IsText {
		d.logger.Debug("ignoring text frame outside pull mode")
		return
	}
	// push frames may beat the load message; the feeder policy decides
	if f != nil {
		if err := f.Push(ev.Data); err != nil {
			d.logger.Debug("feeder rejected chunk", "error", err)
		}
	}
}
