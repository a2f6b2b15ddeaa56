package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/babelcloud/browsercast/internal/util"
)

// Client is a relay participant. It implements CastSession.
type Client struct {
	conn *websocket.Conn
	room string
	role Role

	writeMu sync.Mutex

	signals  chan string
	loads    chan MediaInfo
	statuses chan Status
	controls chan Control
	peers    chan PeerEvent

	done      chan struct{}
	closeOnce sync.Once

	logger *slog.Logger
}

var _ CastSession = (*Client)(nil)

// Dial connects to the relay at url and joins room as role. A display may
// pass an empty room to have the relay allocate a code; Room reports it.
func Dial(ctx context.Context, url, room string, role Role) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(Message{Type: TypeJoin, Room: room, Role: role}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	var joined Message
	for {
		if err := conn.ReadJSON(&joined); err != nil {
			conn.Close()
			return nil, fmt.Errorf("wait for join: %w", err)
		}
		if joined.Type == TypeError {
			conn.Close()
			return nil, fmt.Errorf("join rejected: %s", joined.Error)
		}
		if joined.Type == TypeJoined {
			break
		}
	}
	conn.SetWriteDeadline(time.Time{})
	conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:     conn,
		room:     joined.Room,
		role:     role,
		signals:  make(chan string, sendBuffer),
		loads:    make(chan MediaInfo, 8),
		statuses: make(chan Status, 8),
		controls: make(chan Control, 8),
		peers:    make(chan PeerEvent, 8),
		done:     make(chan struct{}),
		logger:   util.ComponentLogger("cast-session").With("room", joined.Room, "role", role),
	}
	go c.readLoop()
	return c, nil
}

// Room returns the room code this client joined.
func (c *Client) Room() string { return c.room }

// Role returns the role this client joined as.
func (c *Client) Role() Role { return c.role }

func (c *Client) readLoop() {
	defer c.close()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("relay connection ended", "error", err)
			}
			return
		}

		switch msg.Type {
		case TypeSignal:
			if !dispatch(c.done, c.signals, msg.Payload) {
				return
			}
		case TypeLoad:
			if msg.Media != nil && !dispatch(c.done, c.loads, *msg.Media) {
				return
			}
		case TypeStatus:
			if msg.Status != nil && !dispatch(c.done, c.statuses, *msg.Status) {
				return
			}
		case TypeControl:
			if msg.Control != nil && !dispatch(c.done, c.controls, *msg.Control) {
				return
			}
		case TypePeerJoined:
			if !dispatch(c.done, c.peers, PeerEvent{Role: msg.Role, Joined: true}) {
				return
			}
		case TypePeerLeft:
			if !dispatch(c.done, c.peers, PeerEvent{Role: msg.Role, Joined: false}) {
				return
			}
		case TypeStop:
			c.logger.Info("session stopped by peer")
			return
		case TypeError:
			c.logger.Warn("relay reported an error", "error", msg.Error)
		}
	}
}

func dispatch[T any](done <-chan struct{}, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-done:
		return false
	}
}

func (c *Client) write(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrSessionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) SendSignal(ctx context.Context, payload string) error {
	return c.write(ctx, Message{Type: TypeSignal, Payload: payload})
}

func (c *Client) Signals() <-chan string { return c.signals }

func (c *Client) Load(ctx context.Context, media MediaInfo) error {
	return c.write(ctx, Message{Type: TypeLoad, Media: &media})
}

func (c *Client) Loads() <-chan MediaInfo { return c.loads }

func (c *Client) ReportStatus(ctx context.Context, status Status) error {
	return c.write(ctx, Message{Type: TypeStatus, Status: &status})
}

func (c *Client) Statuses() <-chan Status { return c.statuses }

func (c *Client) SendControl(ctx context.Context, control Control) error {
	if c.role != RoleController {
		return ErrNotController
	}
	if !control.Valid() {
		return ErrInvalidControl
	}
	return c.write(ctx, Message{Type: TypeControl, Control: &control})
}

func (c *Client) Controls() <-chan Control { return c.controls }

func (c *Client) Peers() <-chan PeerEvent { return c.peers }

// Stop tells the other side the session is over and leaves the room.
func (c *Client) Stop() error {
	err := c.write(context.Background(), Message{Type: TypeStop})
	c.close()
	if err == ErrSessionClosed {
		return nil
	}
	return err
}

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
	})
}
