package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/babelcloud/browsercast/config"
	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/signaling"
	"github.com/babelcloud/browsercast/internal/util"
)

func NewRelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the signaling relay",
		Long: `Run the websocket relay that pairs a controller and a display in a room and
forwards their signaling messages. Media never passes through the relay.`,
		Example: `  browsercast relay
  browsercast relay --listen :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(config.GetRelayListen())
		},
	}

	cmd.Flags().String("listen", "", "Listen address (default from config relay.listen)")
	config.BindFlag("relay.listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func runRelay(listen string) error {
	logger := util.ComponentLogger("relay")
	collector := metrics.NewPrometheusCollector()
	relay := signaling.NewRelay(collector)

	mux := http.NewServeMux()
	mux.Handle("/ws", relay)
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","rooms":%d}`, relay.Rooms())
	})

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	fmt.Printf("%s %s %s\n", color.GreenString("Signaling relay"), color.CyanString("➜"), color.BlueString("ws://%s/ws", displayHost(listen)))
	fmt.Println(color.CyanString("Press Ctrl+C to stop..."))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return errors.Wrapf(err, "failed to serve relay on %s", listen)
	case <-sigChan:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Relay shutdown error", "error", err)
		srv.Close()
	}
	logger.Info("Relay stopped")
	return nil
}

// displayHost turns a listen address such as ":28100" into something
// printable.
func displayHost(listen string) string {
	if len(listen) > 0 && listen[0] == ':' {
		return "localhost" + listen
	}
	return listen
}
