package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vishalthakur9634/course-chat/internal/chat"
)

// ConnState is the lifecycle state of the realtime connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Channel is the client side of the realtime transport: one long-lived
// websocket per session, joined to at most one room at a time. It is not a
// durable log; events emitted while this client is disconnected are lost and
// must be recovered by re-fetching history.
type Channel struct {
	url     string
	session Session
	dialer  *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	room     string
	closed   bool
	handlers map[string][]func(json.RawMessage)
	stateFns []func(ConnState)

	writeMu sync.Mutex
}

// NewChannel creates a disconnected channel for wsURL (e.g. ws://host/ws).
func NewChannel(wsURL string, session Session) *Channel {
	return &Channel{
		url:      wsURL,
		session:  session,
		dialer:   websocket.DefaultDialer,
		state:    StateDisconnected,
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

// On registers a handler for a server event type. Handlers must be registered
// before Connect; they are invoked from the read loop.
func (c *Channel) On(eventType string, fn func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], fn)
}

// OnStateChange registers a connection state observer. The engine uses this
// to re-fetch history after a reconnect.
func (c *Channel) OnStateChange(fn func(ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFns = append(c.stateFns, fn)
}

// State returns the current connection state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the currently joined room, or "" when none is joined.
func (c *Channel) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Connect dials the transport and starts the read and ping loops.
func (c *Channel) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return &ChannelError{Op: "connect", Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(conn)
	go c.pingLoop(conn)
	return nil
}

// Close tears the connection down for good; no reconnect is attempted.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.room = ""
	c.mu.Unlock()

	c.setState(StateDisconnected)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Join subscribes to roomID. Any previously joined room is left first so the
// client is a member of at most one room at a time.
func (c *Channel) Join(roomID string) error {
	c.mu.Lock()
	prev := c.room
	if prev == roomID {
		c.mu.Unlock()
		return nil
	}
	c.room = roomID
	c.mu.Unlock()

	if prev != "" {
		if err := c.Emit(chat.TypeLeaveRoom, chat.RoomPayload{RoomID: prev}); err != nil {
			return err
		}
	}
	return c.Emit(chat.TypeJoinRoom, chat.RoomPayload{RoomID: roomID})
}

// Leave unsubscribes from roomID.
func (c *Channel) Leave(roomID string) error {
	c.mu.Lock()
	if c.room == roomID {
		c.room = ""
	}
	c.mu.Unlock()
	return c.Emit(chat.TypeLeaveRoom, chat.RoomPayload{RoomID: roomID})
}

// Emit sends an event to the server. It fails with a ChannelError when the
// connection is not currently established.
func (c *Channel) Emit(eventType string, payload interface{}) error {
	data, err := chat.NewEvent(eventType, payload)
	if err != nil {
		return &ChannelError{Op: "emit", Err: err}
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if conn == nil || !connected {
		return &ChannelError{Op: "emit " + eventType}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ChannelError{Op: "emit " + eventType, Err: err}
	}
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u := c.url
	if c.session.Token() != "" {
		u += "?token=" + url.QueryEscape(c.session.Token())
	}
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	return conn, err
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if !c.isClosed() {
				go c.reconnect()
			}
			return
		}

		var ev chat.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// reconnect re-dials with capped backoff and, once connected, re-joins the
// room that was open when the connection dropped.
func (c *Channel) reconnect() {
	c.setState(StateReconnecting)

	delay := reconnectBase
	for {
		if c.isClosed() {
			c.setState(StateDisconnected)
			return
		}
		time.Sleep(delay)
		if delay *= 2; delay > reconnectMax {
			delay = reconnectMax
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			slog.Debug("channel redial failed", "error", err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		room := c.room
		c.mu.Unlock()

		go c.readLoop(conn)
		go c.pingLoop(conn)
		c.setState(StateConnected)

		if room != "" {
			if err := c.Emit(chat.TypeJoinRoom, chat.RoomPayload{RoomID: room}); err != nil {
				slog.Warn("rejoin after reconnect failed", "room_id", room, "error", err)
			}
		}
		return
	}
}

func (c *Channel) dispatch(ev chat.Event) {
	c.mu.Lock()
	fns := append([]func(json.RawMessage){}, c.handlers[ev.Type]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev.Payload)
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) setState(s ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fns := append([]func(ConnState){}, c.stateFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
