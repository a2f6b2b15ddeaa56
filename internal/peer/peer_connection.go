package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/babelcloud/browsercast/internal/util"
)

// DefaultICEServers are used when no ICE servers are configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:global.stun.twilio.com:3478?transport=udp",
}

// newPeerConnection creates a data-only peer connection
func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	logger := util.ComponentLogger("peer")
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		logger.Debug("ICE connection state changed", "state", s.String())
	})

	return pc, nil
}
