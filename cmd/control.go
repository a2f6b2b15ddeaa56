package cmd

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/babelcloud/browsercast/internal/signaling"
	"github.com/babelcloud/browsercast/internal/util"
)

const controlHelp = "play | pause | seek SECONDS | +SECONDS | -SECONDS | volume 0-1 | stop"

// parseControl turns one typed command into a playback control. Relative
// seeks are resolved against the display's last reported position.
func parseControl(line string, last signaling.Status) (signaling.Control, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return signaling.Control{}, errors.New("empty command")
	}

	number := func() (float64, error) {
		if len(fields) != 2 {
			return 0, errors.Errorf("%s needs one number", fields[0])
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		return v, errors.Wrapf(err, "bad number %q", fields[1])
	}

	var c signaling.Control
	switch cmd := fields[0]; {
	case cmd == "play" || cmd == "resume":
		c.Action = signaling.ActionPlay
	case cmd == "pause":
		c.Action = signaling.ActionPause
	case cmd == "stop":
		c.Action = signaling.ActionStop
	case cmd == "seek":
		v, err := number()
		if err != nil {
			return c, err
		}
		c.Action, c.Time = signaling.ActionSeek, v
	case cmd == "volume" || cmd == "vol":
		v, err := number()
		if err != nil {
			return c, err
		}
		c.Action, c.Volume = signaling.ActionVolume, v
	case strings.HasPrefix(cmd, "+") || strings.HasPrefix(cmd, "-"):
		if len(fields) != 1 {
			return c, errors.New("relative seek takes no arguments")
		}
		delta, err := strconv.ParseFloat(cmd, 64)
		if err != nil {
			return c, errors.Wrapf(err, "bad offset %q", cmd)
		}
		c.Action, c.Time = signaling.ActionSeek, last.CurrentTime+delta
		if c.Time < 0 {
			c.Time = 0
		}
	default:
		return c, errors.Errorf("unknown command %q", cmd)
	}

	if !c.Valid() {
		return c, errors.Errorf("invalid %s value", c.Action)
	}
	return c, nil
}

type controlSender interface {
	SendControl(ctx context.Context, control signaling.Control) error
	LastStatus() signaling.Status
}

// readControls sends one control per input line until in ends or ctx is
// done. Bad lines are reported and skipped.
func readControls(ctx context.Context, in io.Reader, sender controlSender) {
	logger := util.ComponentLogger("controls")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c, err := parseControl(line, sender.LastStatus())
		if err != nil {
			color.Yellow("%v (try: %s)", err, controlHelp)
			continue
		}
		if err := sender.SendControl(ctx, c); err != nil {
			logger.Warn("Failed to send control", "action", c.Action, "error", err)
			return
		}
	}
}
