package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wellnesshub/wellness-chat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one live WebSocket session. Inbound events are handled
// sequentially on the read pump, which is what preserves per-sender
// delivery order.
type Client struct {
	conn      *websocket.Conn
	cs        *ChatServer
	log       *zap.Logger
	user      types.User
	sessionId string
	// observer sessions subscribe to the global presence group only and
	// send nothing.
	observer bool

	send chan *ServerEvent
	stop chan struct{}

	roomsMu sync.RWMutex
	rooms   map[string]types.Room
	current string

	groupsMu sync.Mutex
	groups   map[string]struct{}

	cleanupOnce sync.Once
	stopOnce    sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, log *zap.Logger) *Client {
	return &Client{
		conn:      conn,
		cs:        cs,
		log:       log,
		user:      user,
		sessionId: uuid.NewString(),
		send:      make(chan *ServerEvent, 256),
		stop:      make(chan struct{}),
		rooms:     make(map[string]types.Room),
		groups:    make(map[string]struct{}),
	}
}

func NewObserverClient(user types.User, conn *websocket.Conn, cs *ChatServer, log *zap.Logger) *Client {
	c := NewClient(user, conn, cs, log)
	c.observer = true
	return c
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(ev)
			if err != nil {
				c.log.Error("failed to serialize event", zap.Error(err))
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		// Cleanup is unconditional: it runs whether the peer closed
		// gracefully or the transport dropped mid-frame.
		c.cs.Disconnect(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read", zap.Error(err))
			}
			break
		}

		if c.observer {
			continue
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Debug("unparseable client event", zap.Error(err))
			c.queueEvent(ErrInvalidEvent())
			continue
		}

		c.handleEvent(&ev)
	}
}

func (c *Client) handleEvent(ev *ClientEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic handling client event", zap.Any("panic", r))
			c.queueEvent(ErrInternalError())
		}
	}()

	switch ev.Type {
	case clientChatMessage:
		c.cs.handleChatMessage(c, ev)
	case clientTyping:
		c.cs.handleTyping(c, ev)
	case clientJoinRoom:
		c.cs.handleJoinRoom(c, ev)
	case clientLeaveRoom:
		c.cs.handleLeaveRoom(c, ev)
	default:
		c.queueEvent(ErrInvalidEvent())
	}
}

// queueEvent enqueues an event for the write pump. Returns false if the
// session's buffer is full; the event is dropped rather than blocking
// the caller.
func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
	default:
		c.log.Warn("send buffer full, dropping event",
			zap.String("session_id", c.sessionId))
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
			c.log.Warn("websocket write", zap.Error(err))
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) addRoom(r types.Room) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	c.rooms[r.ExternalId] = r
}

func (c *Client) delRoom(externalId string) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	delete(c.rooms, externalId)
	if c.current == externalId {
		c.current = ""
	}
}

func (c *Client) getRoom(externalId string) (types.Room, bool) {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	r, ok := c.rooms[externalId]
	return r, ok
}

func (c *Client) roomList() []types.Room {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	rooms := make([]types.Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

func (c *Client) setCurrent(externalId string) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	c.current = externalId
}

func (c *Client) currentRoom() (types.Room, bool) {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	r, ok := c.rooms[c.current]
	return r, ok
}

func (c *Client) trackGroup(name string) {
	c.groupsMu.Lock()
	defer c.groupsMu.Unlock()
	c.groups[name] = struct{}{}
}

func (c *Client) untrackGroup(name string) {
	c.groupsMu.Lock()
	defer c.groupsMu.Unlock()
	delete(c.groups, name)
}

func (c *Client) groupNames() []string {
	c.groupsMu.Lock()
	defer c.groupsMu.Unlock()
	names := make([]string, 0, len(c.groups))
	for name := range c.groups {
		names = append(names, name)
	}
	return names
}
