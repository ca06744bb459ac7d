package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vishalthakur9634/course-chat/internal/chat"
	"github.com/Vishalthakur9634/course-chat/internal/models"
)

type wsHarness struct {
	srv      *httptest.Server
	mu       sync.Mutex
	received []chat.Event
	conn     *websocket.Conn
	ready    chan struct{}
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	h := &wsHarness{ready: make(chan struct{})}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conn = conn
		h.mu.Unlock()
		close(h.ready)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev chat.Event
			if json.Unmarshal(data, &ev) == nil {
				h.mu.Lock()
				h.received = append(h.received, ev)
				h.mu.Unlock()
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *wsHarness) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
}

func (h *wsHarness) events() []chat.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]chat.Event(nil), h.received...)
}

func (h *wsHarness) push(t *testing.T, eventType string, payload interface{}) {
	t.Helper()
	<-h.ready
	data, err := chat.NewEvent(eventType, payload)
	require.NoError(t, err)
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NoError(t, h.conn.WriteMessage(websocket.TextMessage, data))
}

func TestChannelConnect(t *testing.T) {
	h := newWSHarness(t)
	c := NewChannel(h.url(), testSession())

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	assert.Equal(t, StateConnected, c.State())
}

func TestChannelJoinLeavesPreviousRoom(t *testing.T) {
	h := newWSHarness(t)
	c := NewChannel(h.url(), testSession())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.NoError(t, c.Join("u1_u2"))
	require.NoError(t, c.Join("u1_u3"))
	require.NoError(t, c.Join("u1_u3"), "re-joining the same room is a no-op")
	assert.Equal(t, "u1_u3", c.Room())

	assert.Eventually(t, func() bool { return len(h.events()) == 3 }, time.Second, 5*time.Millisecond)
	var types []string
	for _, ev := range h.events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{chat.TypeJoinRoom, chat.TypeLeaveRoom, chat.TypeJoinRoom}, types,
		"switching conversations leaves the old room before joining the new one")

	var payload chat.RoomPayload
	require.NoError(t, json.Unmarshal(h.events()[1].Payload, &payload))
	assert.Equal(t, "u1_u2", payload.RoomID)
}

func TestChannelLeave(t *testing.T) {
	h := newWSHarness(t)
	c := NewChannel(h.url(), testSession())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.NoError(t, c.Join("u1_u2"))
	require.NoError(t, c.Leave("u1_u2"))
	assert.Empty(t, c.Room())
}

func TestChannelDispatch(t *testing.T) {
	h := newWSHarness(t)
	c := NewChannel(h.url(), testSession())

	var (
		mu  sync.Mutex
		got []models.Message
	)
	c.On(chat.TypeMessageReceived, func(payload json.RawMessage) {
		var m models.Message
		if json.Unmarshal(payload, &m) == nil {
			mu.Lock()
			got = append(got, m)
			mu.Unlock()
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	h.push(t, chat.TypeMessageReceived, models.Message{ID: 501, ConversationID: "u1_u2", SenderID: "u2"})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].ID == 501
	}, time.Second, 5*time.Millisecond)
}

func TestChannelEmitWhileDisconnected(t *testing.T) {
	c := NewChannel("ws://127.0.0.1:0/ws", testSession())
	err := c.Emit(chat.TypePublishMessage, models.Message{ID: 1})
	var cerr *ChannelError
	require.ErrorAs(t, err, &cerr)
}

func TestChannelStateObserver(t *testing.T) {
	h := newWSHarness(t)
	c := NewChannel(h.url(), testSession())

	var (
		mu     sync.Mutex
		states []ConnState
	)
	c.OnStateChange(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background()))
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnState{StateConnecting, StateConnected, StateDisconnected}, states)
}
