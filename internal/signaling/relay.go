package signaling

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dchest/uniuri"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vishalkuo/bimap"
	"k8s.io/utils/keymutex"

	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var roomCodeChars = []byte("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

// Relay is the rendezvous server: each room holds at most one controller and
// one display, and every message from one is forwarded to the other.
type Relay struct {
	upgrader websocket.Upgrader

	// client id <-> "room/role" slot
	slots    *bimap.BiMap[string, string]
	roomLock keymutex.KeyMutex

	mu      sync.RWMutex
	clients map[string]*relayClient

	rooms atomic.Int32

	metrics metrics.Collector
	logger  *slog.Logger
}

type relayClient struct {
	id   string
	conn *websocket.Conn
	send chan Message
	done chan struct{}

	closeOnce sync.Once

	// set once by join, read only from the client's read goroutine
	room string
	role Role
}

// NewRelay creates a relay. collector may be nil.
func NewRelay(collector metrics.Collector) *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		slots:    bimap.NewBiMap[string, string](),
		roomLock: keymutex.NewHashed(256),
		clients:  make(map[string]*relayClient),
		metrics:  metrics.OrNoop(collector),
		logger:   util.ComponentLogger("relay"),
	}
}

func slotKey(room string, role Role) string {
	return room + "/" + string(role)
}

// ServeHTTP upgrades the request to a WebSocket and serves one participant.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &relayClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan Message, sendBuffer),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()

	r.logger.Debug("client connected", "client", c.id, "remote", req.RemoteAddr)

	go r.writePump(c)
	r.readPump(c)
}

// Rooms returns the number of rooms that currently have a participant.
func (r *Relay) Rooms() int {
	return int(r.rooms.Load())
}

func (r *Relay) readPump(c *relayClient) {
	defer func() {
		r.leave(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Debug("relay read error", "client", c.id, "error", err)
			}
			return
		}
		r.metrics.RelayMessage(msg.Type)

		switch msg.Type {
		case TypeJoin:
			if err := r.join(c, msg); err != nil {
				c.enqueue(Message{Type: TypeError, Error: err.Error()})
			}
		case TypeSignal, TypeLoad, TypeStatus, TypeStop:
			if c.room == "" {
				c.enqueue(Message{Type: TypeError, Error: "join a room first"})
				continue
			}
			r.forward(c, msg)
		case TypeControl:
			if c.role != RoleController || msg.Control == nil || !msg.Control.Valid() {
				c.enqueue(Message{Type: TypeError, Error: "invalid control message"})
				continue
			}
			r.forward(c, msg)
		default:
			r.logger.Debug("unknown relay message", "client", c.id, "type", msg.Type)
		}
	}
}

func (r *Relay) join(c *relayClient, msg Message) error {
	if c.room != "" {
		return fmt.Errorf("already joined room %s", c.room)
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("unknown role %q", msg.Role)
	}

	room := msg.Room
	if room == "" {
		if msg.Role != RoleDisplay {
			return fmt.Errorf("a room code is required to join as %s", msg.Role)
		}
		room = uniuri.NewLenChars(6, roomCodeChars)
	}

	r.roomLock.LockKey(room)
	defer r.roomLock.UnlockKey(room)

	slot := slotKey(room, msg.Role)
	if _, taken := r.slots.GetInverse(slot); taken {
		return fmt.Errorf("room %s already has a %s", room, msg.Role)
	}
	otherID, otherPresent := r.slots.GetInverse(slotKey(room, msg.Role.Other()))

	r.slots.Insert(c.id, slot)
	c.room, c.role = room, msg.Role
	if !otherPresent {
		r.rooms.Add(1)
		r.metrics.RoomOpened()
	}

	r.logger.Info("client joined room", "client", c.id, "room", room, "role", msg.Role)
	c.enqueue(Message{Type: TypeJoined, Room: room, Role: msg.Role})

	if otherPresent {
		if other := r.client(otherID); other != nil {
			other.enqueue(Message{Type: TypePeerJoined, Room: room, Role: msg.Role})
			c.enqueue(Message{Type: TypePeerJoined, Room: room, Role: msg.Role.Other()})
		}
	}
	return nil
}

func (r *Relay) forward(c *relayClient, msg Message) {
	otherID, ok := r.slots.GetInverse(slotKey(c.room, c.role.Other()))
	if !ok {
		r.logger.Debug("no peer in room, dropping message", "room", c.room, "type", msg.Type)
		return
	}
	other := r.client(otherID)
	if other == nil {
		return
	}
	msg.Room, msg.Role = c.room, c.role
	other.enqueue(msg)
}

func (r *Relay) leave(c *relayClient) {
	r.mu.Lock()
	delete(r.clients, c.id)
	r.mu.Unlock()

	if c.room == "" {
		return
	}

	r.roomLock.LockKey(c.room)
	defer r.roomLock.UnlockKey(c.room)

	r.slots.Delete(c.id)
	r.logger.Info("client left room", "client", c.id, "room", c.room, "role", c.role)

	otherID, ok := r.slots.GetInverse(slotKey(c.room, c.role.Other()))
	if !ok {
		r.rooms.Add(-1)
		r.metrics.RoomClosed()
		return
	}
	if other := r.client(otherID); other != nil {
		other.enqueue(Message{Type: TypePeerLeft, Room: c.room, Role: c.role})
	}
}

func (r *Relay) client(id string) *relayClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[id]
}

func (r *Relay) writePump(c *relayClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				r.logger.Debug("relay write error", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// enqueue never blocks the relay; a participant that cannot keep up is
// disconnected.
func (c *relayClient) enqueue(msg Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.close()
	}
}

func (c *relayClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
