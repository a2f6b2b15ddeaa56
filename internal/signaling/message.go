package signaling

// Role identifies which side of a cast a participant plays.
type Role string

const (
	RoleController Role = "controller"
	RoleDisplay    Role = "display"
)

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleController {
		return RoleDisplay
	}
	return RoleController
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleController || r == RoleDisplay
}

// Message types exchanged with the relay
const (
	TypeJoin       = "join"
	TypeJoined     = "joined"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
	TypeSignal     = "signal"
	TypeLoad       = "load"
	TypeStatus     = "status"
	TypeStop       = "stop"
	TypeControl    = "control"
	TypeError      = "error"
)

// Playback modes announced in a load message
const (
	ModePull = "pull"
	ModePush = "push"
)

// Message is the JSON frame carried over the relay WebSocket.
type Message struct {
	Type    string     `json:"type"`
	Room    string     `json:"room,omitempty"`
	Role    Role       `json:"role,omitempty"`
	Payload string     `json:"payload,omitempty"` // opaque signal envelope
	Media   *MediaInfo `json:"media,omitempty"`
	Status  *Status    `json:"status,omitempty"`
	Control *Control   `json:"control,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// MediaInfo describes what the display should play.
type MediaInfo struct {
	Path            string  `json:"path"` // e.g. MEDIA_FILE?size=1234
	MIME            string  `json:"mime"`
	Title           string  `json:"title,omitempty"`
	Size            int64   `json:"size,omitempty"`
	Mode            string  `json:"mode"`
	CurrentTime     float64 `json:"currentTime,omitempty"`
	ProtocolVersion string  `json:"protocolVersion,omitempty"`
}

// Status is periodic playback progress reported by the display.
type Status struct {
	Path        string  `json:"path"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration,omitempty"`
	Playing     bool    `json:"playing"`
}

// Remote playback actions carried in a control message
const (
	ActionPlay   = "play"
	ActionPause  = "pause"
	ActionSeek   = "seek"
	ActionVolume = "volume"
	ActionStop   = "stop"
)

// Control is a remote playback command from the controller to the
// display's player. Time is used by seek, Volume (0..1) by volume.
type Control struct {
	Action string  `json:"action"`
	Time   float64 `json:"time,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

// Valid reports whether c is a known action with usable arguments.
func (c Control) Valid() bool {
	switch c.Action {
	case ActionPlay, ActionPause, ActionStop:
		return true
	case ActionSeek:
		return c.Time >= 0
	case ActionVolume:
		return c.Volume >= 0 && c.Volume <= 1
	}
	return false
}

// PeerEvent reports the other participant joining or leaving the room.
type PeerEvent struct {
	Role   Role
	Joined bool
}
