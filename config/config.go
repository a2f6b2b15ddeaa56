package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var v *viper.Viper

// Framing modes for pull responses
const (
	FramingEnvelope = "envelope"
	FramingLegacy   = "legacy"
)

// Feeder policies for chunks that arrive before the playback sink is open
const (
	FeederPolicyDrop   = "drop"
	FeederPolicyBuffer = "buffer"
)

func init() {
	v = viper.New()
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("BROWSERCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("home", "BROWSERCAST_HOME")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths := []string{
		".",
		filepath.Join(xdg.ConfigHome, "browsercast"),
		"/etc/browsercast",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", filepath.Join(xdg.ConfigHome, "browsercast"))

	v.SetDefault("relay.url", "ws://localhost:28100/ws")
	v.SetDefault("relay.listen", ":28100")
	v.SetDefault("display.listen", "127.0.0.1:28101")

	v.SetDefault("ice.servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:global.stun.twilio.com:3478?transport=udp",
	})

	v.SetDefault("chunk.segment_size", 60*1024)
	v.SetDefault("chunk.framing", FramingEnvelope)
	v.SetDefault("chunk.request_timeout", 30*time.Second)

	v.SetDefault("push.interval", time.Second)
	v.SetDefault("push.max_segment", 60*1024)

	v.SetDefault("feeder.policy", FeederPolicyDrop)
	v.SetDefault("feeder.max_pending", 64)
}

// BindFlag lets a command-line flag override the config key when it is set.
func BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag for config key %q", key)
	}
	return v.BindPFlag(key, flag)
}

// Set overrides a key for the rest of the process.
func Set(key string, value any) {
	v.Set(key, value)
}

// ConfigFileUsed returns the config file that was loaded, if any.
func ConfigFileUsed() string {
	return v.ConfigFileUsed()
}

// GetHome returns the browsercast state directory
func GetHome() string {
	return v.GetString("home")
}

// GetRelayURL returns the WebSocket URL of the signaling relay
func GetRelayURL() string {
	return v.GetString("relay.url")
}

// GetRelayListen returns the listen address of the relay server
func GetRelayListen() string {
	return v.GetString("relay.listen")
}

// GetDisplayListen returns the listen address of the display's player server
func GetDisplayListen() string {
	return v.GetString("display.listen")
}

// GetICEServers returns the STUN/TURN URLs used by the peer link
func GetICEServers() []string {
	return v.GetStringSlice("ice.servers")
}

// GetSegmentSize returns how many bytes a pull responder answers per request
func GetSegmentSize() int {
	return v.GetInt("chunk.segment_size")
}

// GetFraming returns the pull response framing, envelope or legacy
func GetFraming() string {
	framing := strings.ToLower(v.GetString("chunk.framing"))
	if framing != FramingLegacy {
		return FramingEnvelope
	}
	return framing
}

func GetRequestTimeout() time.Duration {
	return v.GetDuration("chunk.request_timeout")
}

func GetPushInterval() time.Duration {
	return v.GetDuration("push.interval")
}

func GetPushMaxSegment() int {
	return v.GetInt("push.max_segment")
}

// GetFeederPolicy returns drop or buffer
func GetFeederPolicy() string {
	policy := strings.ToLower(v.GetString("feeder.policy"))
	if policy != FeederPolicyBuffer {
		return FeederPolicyDrop
	}
	return policy
}

func GetFeederMaxPending() int {
	return v.GetInt("feeder.max_pending")
}
