package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/babelcloud/browsercast/config"
	"github.com/babelcloud/browsercast/internal/chunk"
	"github.com/babelcloud/browsercast/internal/feeder"
	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/server"
	"github.com/babelcloud/browsercast/internal/session"
	"github.com/babelcloud/browsercast/internal/signaling"
	"github.com/babelcloud/browsercast/internal/util"
)

// redialDelay is the pause between a failed relay dial and the next try.
const redialDelay = 3 * time.Second

type DisplayCmdOptions struct {
	Room   string
	NoOpen bool
	Once   bool
}

func NewDisplayCommand() *cobra.Command {
	opts := &DisplayCmdOptions{}

	cmd := &cobra.Command{
		Use:   "display",
		Short: "Open a room and play whatever is cast to it",
		Long: `Start the local player server, open a room on the relay and print its code.
Run 'browsercast send --room CODE' on the other machine to cast to it. The
room stays open for the next cast when a session ends.`,
		Example: `  browsercast display
  browsercast display --room K3J9QX --no-open
  browsercast display --listen 0.0.0.0:28101 --framing legacy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisplay(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Room, "room", "r", "", "Room code to open (generated when empty)")
	flags.BoolVar(&opts.NoOpen, "no-open", false, "Do not open the player page in a browser")
	flags.BoolVar(&opts.Once, "once", false, "Exit after the first session ends")
	flags.String("listen", "", "Player server address (default from config display.listen)")
	flags.String("framing", "", "Pull response framing: envelope or legacy (default from config chunk.framing)")
	flags.String("feeder-policy", "", "What to do with pushed chunks before the player is ready: drop or buffer")
	config.BindFlag("display.listen", flags.Lookup("listen"))
	config.BindFlag("chunk.framing", flags.Lookup("framing"))
	config.BindFlag("feeder.policy", flags.Lookup("feeder-policy"))

	return cmd
}

func runDisplay(ctx context.Context, opts *DisplayCmdOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := util.ComponentLogger("display-cmd")
	collector := metrics.NewPrometheusCollector()

	srv := server.NewDisplayServer(config.GetDisplayListen(), collector)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	fmt.Printf("%s %s %s\n", color.GreenString("Player"), color.CyanString("➜"), color.BlueString(srv.URL()))
	if !opts.NoOpen && term.IsTerminal(int(os.Stdout.Fd())) {
		if err := browser.OpenURL(srv.URL()); err != nil {
			logger.Warn("Failed to open browser", "error", err)
			fmt.Printf("Open %s in your browser\n", srv.URL())
		}
	}

	displayOpts := session.DisplayOptions{
		Links:          session.PeerLinks(config.GetICEServers(), collector),
		Framing:        chunk.ParseFraming(config.GetFraming()),
		RequestTimeout: config.GetRequestTimeout(),
		FeederPolicy:   feeder.ParsePolicy(config.GetFeederPolicy()),
		MaxPending:     config.GetFeederMaxPending(),
		Metrics:        collector,
		OnLoad: func(media signaling.MediaInfo) {
			fmt.Printf("%s %s (%s, %s)\n", color.GreenString("▶ Playing"), color.CyanString(media.Title), media.MIME, media.Mode)
		},
	}

	room := opts.Room
	announced := ""
	for {
		client, err := signaling.Dial(ctx, config.GetRelayURL(), room, signaling.RoleDisplay)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("Failed to join relay", "error", err)
			if !sleepCtx(ctx, redialDelay) {
				return nil
			}
			continue
		}

		// keep the same code across sessions so the controller can cast again
		room = client.Room()
		if room != announced {
			fmt.Printf("Room code: %s\n", color.New(color.FgYellow, color.Bold).Sprint(room))
			fmt.Printf("Cast with: %s\n", color.CyanString("browsercast send --room %s FILE", room))
			announced = room
		}

		disp := session.NewDisplay(client, srv.Broker(), srv.Live(), displayOpts)
		srv.Attach(room, disp)
		err = disp.Run(ctx)
		srv.Attach(room, nil)

		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil, errors.Is(err, session.ErrSessionEnded):
			color.Green("Session ended")
		default:
			color.Red("Session failed: %v", err)
		}
		if opts.Once {
			if errors.Is(err, session.ErrSessionEnded) {
				return nil
			}
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
