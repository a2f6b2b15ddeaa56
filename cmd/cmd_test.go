package cmd

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/browsercast/internal/signaling"
)

func TestFormatPosition(t *testing.T) {
	assert.Equal(t, "00:00:00", formatPosition(0))
	assert.Equal(t, "00:01:05", formatPosition(65.9))
	assert.Equal(t, "02:00:01", formatPosition(7201))
}

func TestDisplayHost(t *testing.T) {
	assert.Equal(t, "localhost:28100", displayHost(":28100"))
	assert.Equal(t, "0.0.0.0:9000", displayHost("0.0.0.0:9000"))
}

func TestSendArgs(t *testing.T) {
	cmd := NewSendCommand()

	require.NoError(t, cmd.Flags().Set("room", "ABC123"))
	assert.NoError(t, cmd.Args(cmd, []string{"movie.mp4"}))
	assert.Error(t, cmd.Args(cmd, nil))
	assert.Error(t, cmd.Args(cmd, []string{"a.mp4", "b.mp4"}))

	require.NoError(t, cmd.Flags().Set("live", "true"))
	assert.NoError(t, cmd.Args(cmd, []string{"-re", "-i", "movie.mkv"}))
	assert.Error(t, cmd.Args(cmd, nil))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"relay", "send", "display", "version"} {
		assert.True(t, names[want], want)
	}
}

func TestParseControl(t *testing.T) {
	last := signaling.Status{CurrentTime: 100}

	cases := map[string]signaling.Control{
		"play":       {Action: signaling.ActionPlay},
		"PAUSE":      {Action: signaling.ActionPause},
		"stop":       {Action: signaling.ActionStop},
		"seek 42.5":  {Action: signaling.ActionSeek, Time: 42.5},
		"+30":        {Action: signaling.ActionSeek, Time: 130},
		"-15":        {Action: signaling.ActionSeek, Time: 85},
		"-500":       {Action: signaling.ActionSeek, Time: 0},
		"volume 0.5": {Action: signaling.ActionVolume, Volume: 0.5},
	}
	for line, want := range cases {
		got, err := parseControl(line, last)
		require.NoError(t, err, line)
		assert.Equal(t, want, got, line)
	}

	for _, bad := range []string{"", "rewind", "seek", "seek soon", "volume 3", "+x", "+5 6"} {
		_, err := parseControl(bad, last)
		assert.Error(t, err, bad)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	sent []signaling.Control
}

func (r *recordingSender) SendControl(ctx context.Context, c signaling.Control) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, c)
	return nil
}

func (r *recordingSender) LastStatus() signaling.Status {
	return signaling.Status{CurrentTime: 10}
}

func TestReadControlsSkipsBadLines(t *testing.T) {
	sender := &recordingSender{}
	readControls(context.Background(), strings.NewReader("pause\n\nbogus\n+5\n"), sender)

	assert.Equal(t, []signaling.Control{
		{Action: signaling.ActionPause},
		{Action: signaling.ActionSeek, Time: 15},
	}, sender.sent)
}
