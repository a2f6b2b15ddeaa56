package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withViper(t *testing.T) {
	t.Helper()
	saved := v
	v = viper.New()
	setDefaults(v)
	t.Cleanup(func() { v = saved })
}

func TestDefaults(t *testing.T) {
	withViper(t)

	assert.Equal(t, 60*1024, GetSegmentSize())
	assert.Equal(t, FramingEnvelope, GetFraming())
	assert.Equal(t, FeederPolicyDrop, GetFeederPolicy())
	assert.Equal(t, 30*time.Second, GetRequestTimeout())
	assert.Equal(t, time.Second, GetPushInterval())
	assert.Equal(t, []string{
		"stun:stun.l.google.com:19302",
		"stun:global.stun.twilio.com:3478?transport=udp",
	}, GetICEServers())
}

func TestUnknownModesFallBack(t *testing.T) {
	withViper(t)

	Set("chunk.framing", "LEGACY")
	assert.Equal(t, FramingLegacy, GetFraming())
	Set("chunk.framing", "bogus")
	assert.Equal(t, FramingEnvelope, GetFraming())

	Set("feeder.policy", "Buffer")
	assert.Equal(t, FeederPolicyBuffer, GetFeederPolicy())
	Set("feeder.policy", "keep-everything")
	assert.Equal(t, FeederPolicyDrop, GetFeederPolicy())
}

func TestBindFlag(t *testing.T) {
	withViper(t)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("listen", "127.0.0.1:28101", "")
	require.NoError(t, BindFlag("display.listen", fs.Lookup("listen")))
	require.NoError(t, fs.Parse([]string{"--listen", ":9000"}))

	assert.Equal(t, ":9000", GetDisplayListen())
	assert.Error(t, BindFlag("relay.listen", fs.Lookup("missing")))
}
