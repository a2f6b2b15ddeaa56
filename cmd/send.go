package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/babelcloud/browsercast/config"
	"github.com/babelcloud/browsercast/internal/capture"
	"github.com/babelcloud/browsercast/internal/chunk"
	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/session"
	"github.com/babelcloud/browsercast/internal/signaling"
)

type SendOptions struct {
	Room      string
	Live      bool
	Transcode bool
	Title     string
}

func NewSendCommand() *cobra.Command {
	opts := &SendOptions{}

	cmd := &cobra.Command{
		Use:   "send [FILE | -- FFMPEG_INPUT_ARGS...]",
		Short: "Cast a file or a live capture to a display",
		Long: `Join a display's room as the controller and cast to it.

With a FILE the display pulls the file segment by segment as its player
seeks. With --live the arguments after -- are handed to ffmpeg as its input
and the fragmented MP4 it produces is pushed to the display as it is made.`,
		Example: `  browsercast send --room K3J9QX movie.mp4
  browsercast send --room K3J9QX --live -- -re -i movie.mkv
  browsercast send --room K3J9QX --live --transcode -- -f avfoundation -i 1`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Live {
				if len(args) == 0 {
					return errors.New("--live needs ffmpeg input arguments after --")
				}
				return nil
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Room, "room", "r", "", "Room code shown by the display")
	flags.BoolVar(&opts.Live, "live", false, "Push a live ffmpeg capture instead of a file")
	flags.BoolVar(&opts.Transcode, "transcode", false, "Re-encode the capture to H.264/AAC")
	flags.StringVar(&opts.Title, "title", "", "Title shown on the display")
	flags.Int("segment-size", 0, "Pull segment size in bytes (default from config chunk.segment_size)")
	config.BindFlag("chunk.segment_size", flags.Lookup("segment-size"))
	cmd.MarkFlagRequired("room")

	return cmd
}

func runSend(ctx context.Context, opts *SendOptions, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	item, err := prepareItem(gctx, g, opts, args)
	if err != nil {
		return err
	}
	if item.Source != nil {
		if c, ok := item.Source.(interface{ Close() error }); ok {
			defer c.Close()
		}
	}

	sp := NewUISpinner(fmt.Sprintf("Joining room %s", color.CyanString(opts.Room)))
	client, err := signaling.Dial(gctx, config.GetRelayURL(), opts.Room, signaling.RoleController)
	if err != nil {
		sp.Fail("Could not join the room")
		stop()
		g.Wait()
		return err
	}
	sp.Success(fmt.Sprintf("Joined room %s", color.CyanString(client.Room())))

	sp = NewUISpinner("Connecting to the display")
	controller := session.NewController(client, session.ControllerOptions{
		Links:       session.PeerLinks(config.GetICEServers(), metrics.Noop{}),
		SegmentSize: config.GetSegmentSize(),
		OnConnect: func() {
			sp.Success(fmt.Sprintf("Casting %s (%s)", color.CyanString(item.Title), item.MIME))
			fmt.Printf("(Press %s to stop.)\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))
			if term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Printf("Playback: %s\n", controlHelp)
			}
		},
	})
	go readControls(gctx, os.Stdin, controller)

	castErr := controller.Cast(gctx, item)
	sp.Stop()
	stop()
	waitErr := g.Wait()

	if st := controller.LastStatus(); st.CurrentTime > 0 {
		fmt.Printf("Stopped at %s\n", formatPosition(st.CurrentTime))
	}

	switch {
	case castErr == nil, errors.Is(castErr, context.Canceled), errors.Is(castErr, session.ErrSessionEnded):
		color.Green("Cast finished")
	default:
		return castErr
	}
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return nil
}

// prepareItem opens the file, or starts ffmpeg and the segmenter under g.
func prepareItem(ctx context.Context, g *errgroup.Group, opts *SendOptions, args []string) (session.MediaItem, error) {
	if !opts.Live {
		src, err := chunk.OpenFile(args[0])
		if err != nil {
			return session.MediaItem{}, errors.Wrapf(err, "failed to open %s", args[0])
		}
		title := opts.Title
		if title == "" {
			title = src.Name()
		}
		mime := session.MIMEFromName(src.Name())
		if !session.IsMedia(src.Name()) {
			color.Yellow("Warning: %s is not a recognised media type, the player may refuse it", src.Name())
		}
		return session.MediaItem{Title: title, MIME: mime, Source: src}, nil
	}

	ff := capture.NewFFmpegCapture(args, opts.Transcode)
	stdout, err := ff.Start(ctx)
	if err != nil {
		return session.MediaItem{}, err
	}
	segments := make(chan []byte, 16)
	seg := capture.NewSegmenter(config.GetPushInterval(), config.GetPushMaxSegment())
	g.Go(func() error {
		// ffmpeg is reaped only after its output was read to the end
		defer ff.Stop()
		if err := seg.Run(ctx, stdout, segments); err != nil {
			return err
		}
		return errors.Wrap(ff.Wait(), "ffmpeg exited")
	})

	title := opts.Title
	if title == "" {
		title = "Live capture"
	}
	return session.MediaItem{Title: title, MIME: "video/mp4", Live: segments}, nil
}

func formatPosition(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}
