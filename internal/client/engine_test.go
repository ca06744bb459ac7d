package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vishalthakur9634/course-chat/internal/chat"
	"github.com/Vishalthakur9634/course-chat/internal/models"
)

type fakeStore struct {
	mu            sync.Mutex
	conversations []models.ConversationSummary
	histories     map[string][]models.Message
	listGate      map[string]chan struct{}
	sendFn        func(receiverID, body string) (*models.Message, error)
	sendCalls     int
	reads         []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		histories: make(map[string][]models.Message),
		listGate:  make(map[string]chan struct{}),
	}
}

func (f *fakeStore) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversations, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, peerID string) ([]models.Message, error) {
	f.mu.Lock()
	gate := f.listGate[peerID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.histories[peerID]...), nil
}

func (f *fakeStore) SendMessage(ctx context.Context, receiverID, body string) (*models.Message, error) {
	f.mu.Lock()
	f.sendCalls++
	fn := f.sendFn
	f.mu.Unlock()
	return fn(receiverID, body)
}

func (f *fakeStore) MarkRead(ctx context.Context, peerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, peerID)
	return nil
}

type emitted struct {
	Type    string
	Payload interface{}
}

type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	stateFns []func(ConnState)
	joins    []string
	leaves   []string
	emits    []emitted
	emitErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string][]func(json.RawMessage))}
}

func (f *fakeChannel) Join(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, roomID)
	return nil
}

func (f *fakeChannel) Leave(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, roomID)
	return nil
}

func (f *fakeChannel) Emit(eventType string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitted{Type: eventType, Payload: payload})
	return nil
}

func (f *fakeChannel) On(eventType string, fn func(json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[eventType] = append(f.handlers[eventType], fn)
}

func (f *fakeChannel) OnStateChange(fn func(ConnState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateFns = append(f.stateFns, fn)
}

func (f *fakeChannel) fire(t *testing.T, eventType string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	f.mu.Lock()
	fns := append([]func(json.RawMessage){}, f.handlers[eventType]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

func (f *fakeChannel) fireState(s ConnState) {
	f.mu.Lock()
	fns := append([]func(ConnState){}, f.stateFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func newTestEngine(t *testing.T, self string) (*Engine, *fakeStore, *fakeChannel) {
	t.Helper()
	store := newFakeStore()
	channel := newFakeChannel()
	engine := NewEngine(StaticSession{User: self, BearerToken: "tok"}, store, channel, NewDirectory(), nil)
	return engine, store, channel
}

func TestSendReplacesDraftExactlyOnce(t *testing.T) {
	engine, store, channel := newTestEngine(t, "u1")
	created := time.Now()
	store.sendFn = func(receiverID, body string) (*models.Message, error) {
		return &models.Message{
			ID: 501, ConversationID: "u1_u2", SenderID: "u1", ReceiverID: receiverID,
			Body: body, CreatedAt: created,
		}, nil
	}

	ctx := context.Background()
	require.NoError(t, engine.Open(ctx, "u2"))
	require.NoError(t, engine.Send(ctx, "hello"))

	entries := engine.Messages()
	require.Len(t, entries, 1, "draft must be replaced, not duplicated")
	assert.Equal(t, int64(501), entries[0].Message.ID)
	assert.Equal(t, Published, entries[0].State)

	require.Len(t, channel.emits, 1)
	assert.Equal(t, chat.TypePublishMessage, channel.emits[0].Type)
	assert.Equal(t, []string{"u1_u2"}, channel.joins)
}

func TestSendValidation(t *testing.T) {
	engine, store, _ := newTestEngine(t, "u1")
	ctx := context.Background()

	var verr *ValidationError
	err := engine.Send(ctx, "hi")
	require.ErrorAs(t, err, &verr, "send with no open conversation is rejected")

	require.NoError(t, engine.Open(ctx, "u2"))
	err = engine.Send(ctx, "   \t\n")
	require.ErrorAs(t, err, &verr)

	assert.Empty(t, engine.Messages(), "no draft is created for rejected input")
	assert.Zero(t, store.sendCalls, "validation happens before any network call")
}

func TestOwnBroadcastFiltered(t *testing.T) {
	engine, store, channel := newTestEngine(t, "u1")
	store.sendFn = func(receiverID, body string) (*models.Message, error) {
		return &models.Message{
			ID: 501, ConversationID: "u1_u2", SenderID: "u1", ReceiverID: "u2",
			Body: body, CreatedAt: time.Now(),
		}, nil
	}

	ctx := context.Background()
	require.NoError(t, engine.Open(ctx, "u2"))
	require.NoError(t, engine.Send(ctx, "hello"))

	// The server may echo our own publish back (e.g. via a second device in
	// the room); it must never re-append.
	channel.fire(t, chat.TypeMessageReceived, models.Message{
		ID: 501, ConversationID: "u1_u2", SenderID: "u1", ReceiverID: "u2",
		Body: "hello", CreatedAt: time.Now(),
	})

	assert.Len(t, engine.Messages(), 1)
}

func TestLiveAndFetchAreOneFact(t *testing.T) {
	engine, store, channel := newTestEngine(t, "u2")
	ctx := context.Background()
	require.NoError(t, engine.Open(ctx, "u1"))

	msg := models.Message{
		ID: 501, ConversationID: "u1_u2", SenderID: "u1", ReceiverID: "u2",
		Body: "hello", CreatedAt: time.Now(),
	}

	channel.fire(t, chat.TypeMessageReceived, msg)
	channel.fire(t, chat.TypeMessageReceived, msg)

	// The same message also shows up in a later history fetch.
	store.mu.Lock()
	store.histories["u1"] = []models.Message{msg}
	store.mu.Unlock()
	require.NoError(t, engine.Open(ctx, "u1"))

	entries := engine.Messages()
	require.Len(t, entries, 1, "store response and live event reconcile to one fact")
	assert.Equal(t, int64(501), entries[0].Message.ID)
	assert.Equal(t, 1, engine.Directory().Unread("u1"), "duplicate delivery counts once")
}

func TestOrderingAcrossSources(t *testing.T) {
	engine, store, channel := newTestEngine(t, "u1")
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	store.histories["u2"] = []models.Message{
		{ID: 1, ConversationID: "u1_u2", SenderID: "u2", ReceiverID: "u1", Body: "a", CreatedAt: base},
		{ID: 4, ConversationID: "u1_u2", SenderID: "u1", ReceiverID: "u2", Body: "d", CreatedAt: base.Add(3 * time.Second)},
	}

	ctx := context.Background()
	require.NoError(t, engine.Open(ctx, "u2"))

	// Live events arrive out of order, one with a timestamp tie against id 4.
	channel.fire(t, chat.TypeMessageReceived, models.Message{
		ID: 5, ConversationID: "u1_u2", SenderID: "u2", ReceiverID: "u1", Body: "e", CreatedAt: base.Add(3 * time.Second)})
	channel.fire(t, chat.TypeMessageReceived, models.Message{
		ID: 2, ConversationID: "u1_u2", SenderID: "u2", ReceiverID: "u1", Body: "b", CreatedAt: base.Add(time.Second)})

	var ids []int64
	for _, e := range engine.Messages() {
		ids = append(ids, e.Message.ID)
	}
	assert.Equal(t, []int64{1, 2, 4, 5}, ids, "createdAt ascending, id ascending on ties")
}

func TestStaleFetchDiscarded(t *testing.T) {
	engine, store, _ := newTestEngine(t, "u1")
	base := time.Now()

	gate := make(chan struct{})
	store.listGate["u2"] = gate
	store.histories["u2"] = []models.Message{
		{ID: 10, ConversationID: "u1_u2", SenderID: "u2", ReceiverID: "u1", Body: "old", CreatedAt: base}}
	store.histories["u3"] = []models.Message{
		{ID: 20, ConversationID: "u1_u3", SenderID: "u3", ReceiverID: "u1", Body: "new", CreatedAt: base}}

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Open(ctx, "u2")
	}()

	// Navigate away before the u2 fetch resolves.
	require.Eventually(t, func() bool { return engine.OpenPeer() == "u2" }, time.Second, time.Millisecond)
	require.NoError(t, engine.Open(ctx, "u3"))

	close(gate)
	wg.Wait()

	entries := engine.Messages()
	require.Len(t, entries, 1, "the stale u2 result must not leak into the u3 view")
	assert.Equal(t, int64(20), entries[0].Message.ID)
}

func TestFailedSendKeptForRetry(t *testing.T) {
	engine, store, channel := newTestEngine(t, "u1")
	ctx := context.Background()
	require.NoError(t, engine.Open(ctx, "u2"))

	store.sendFn = func(receiverID, body string) (*models.Message, error) {
		return nil, &NetworkError{Op: "send message", Status: 503}
	}
	require.Error(t, engine.Send(ctx, "hello"))

	entries := engine.Messages()
	require.Len(t, entries, 1, "failed draft stays visible")
	assert.Equal(t, Failed, entries[0].State)
	assert.True(t, entries[0].Draft())
	assert.Empty(t, channel.emits, "nothing is published for an unpersisted message")

	draftID := entries[0].Message.ID
	store.sendFn = func(receiverID, body string) (*models.Message, error) {
		return &models.Message{
			ID: 700, ConversationID: "u1_u2", SenderID: "u1", ReceiverID: "u2",
			Body: body, CreatedAt: time.Now(),
		}, nil
	}
	require.NoError(t, engine.Retry(ctx, draftID))

	entries = engine.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(700), entries[0].Message.ID)
	assert.Equal(t, Published, entries[0].State)
}

func TestRetryRejectsUnknownDraft(t *testing.T) {
	engine, _, _ := newTestEngine(t, "u1")
	var verr *ValidationError
	require.ErrorAs(t, engine.Retry(context.Background(), -99), &verr)
}

func TestMarkReadClearsUnreadAndFlags(t *testing.T) {
	engine, store, channel := newTestEngine(t, "u1")
	ctx := context.Background()
	require.NoError(t, engine.Open(ctx, "u2"))

	channel.fire(t, chat.TypeMessageReceived, models.Message{
		ID: 30, ConversationID: "u1_u2", SenderID: "u2", ReceiverID: "u1", Body: "hi", CreatedAt: time.Now()})
	require.Equal(t, 1, engine.Directory().Unread("u2"))

	require.NoError(t, engine.MarkRead(ctx, "u2"))

	assert.Equal(t, []string{"u2"}, store.reads)
	assert.Zero(t, engine.Directory().Unread("u2"))
	entries := engine.Messages()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Message.IsRead)
}

func TestCloseConversationLeavesRoom(t *testing.T) {
	engine, _, channel := newTestEngine(t, "u1")
	ctx := context.Background()
	require.NoError(t, engine.Open(ctx, "u2"))
	engine.CloseConversation()

	assert.Equal(t, []string{"u1_u2"}, channel.leaves)
	assert.Empty(t, engine.OpenPeer())
	assert.Empty(t, engine.Messages())
}

func TestResyncAfterReconnect(t *testing.T) {
	engine, store, channel := newTestEngine(t, "u1")
	base := time.Now()
	store.histories["u2"] = []models.Message{
		{ID: 1, ConversationID: "u1_u2", SenderID: "u2", ReceiverID: "u1", Body: "a", CreatedAt: base}}

	ctx := context.Background()
	require.NoError(t, engine.Open(ctx, "u2"))
	require.Len(t, engine.Messages(), 1)

	// A message lands while the transport is down; the channel drops it.
	store.mu.Lock()
	store.histories["u2"] = append(store.histories["u2"], models.Message{
		ID: 2, ConversationID: "u1_u2", SenderID: "u2", ReceiverID: "u1", Body: "b", CreatedAt: base.Add(time.Second)})
	store.mu.Unlock()

	channel.fireState(StateReconnecting)
	channel.fireState(StateConnected)

	assert.Eventually(t, func() bool {
		return len(engine.Messages()) == 2
	}, time.Second, 5*time.Millisecond, "reconnect triggers a history re-fetch")
}

func TestLoadConversationsError(t *testing.T) {
	store := newFakeStore()
	channel := newFakeChannel()
	engine := NewEngine(StaticSession{User: "u1"}, failingListStore{store}, channel, NewDirectory(), nil)

	_, err := engine.LoadConversations(context.Background())
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
}

type failingListStore struct{ *fakeStore }

func (failingListStore) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	return nil, &NetworkError{Op: "list conversations", Err: errors.New("connection refused")}
}
