package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Vishalthakur9634/course-chat/internal/chat"
	"github.com/Vishalthakur9634/course-chat/internal/convid"
	"github.com/Vishalthakur9634/course-chat/internal/models"
)

// MessageStore is the subset of the store API the engine drives.
type MessageStore interface {
	ListConversations(ctx context.Context) ([]models.ConversationSummary, error)
	ListMessages(ctx context.Context, peerID string) ([]models.Message, error)
	SendMessage(ctx context.Context, receiverID, body string) (*models.Message, error)
	MarkRead(ctx context.Context, peerID string) error
}

// RealtimeChannel is the subset of the channel API the engine drives.
type RealtimeChannel interface {
	Join(roomID string) error
	Leave(roomID string) error
	Emit(eventType string, payload interface{}) error
	On(eventType string, fn func(json.RawMessage))
	OnStateChange(fn func(ConnState))
}

// DeliveryState tracks an outgoing message through its lifecycle. Entries
// that arrived from the store or the channel are already canonical and sit at
// Persisted or beyond.
type DeliveryState int

const (
	Optimistic DeliveryState = iota
	Persisting
	Persisted
	Published
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Optimistic:
		return "optimistic"
	case Persisting:
		return "persisting"
	case Persisted:
		return "persisted"
	case Published:
		return "published"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Entry is one row of the visible message list. Drafts carry a temporary
// negative id until the canonical record replaces them.
type Entry struct {
	Message models.Message
	State   DeliveryState
}

// Draft reports whether the entry is still a local, unpersisted record.
func (e Entry) Draft() bool { return e.Message.ID < 0 }

// Engine reconciles three independently failing sources into one ordered,
// duplicate-free message list per conversation: the authoritative store, the
// best-effort live channel, and local optimistic state. The store response
// and the live event for the same message are two deliveries of one fact,
// merged by id.
type Engine struct {
	session Session
	store   MessageStore
	channel RealtimeChannel
	dir     *Directory
	notify  Notifier

	mu          sync.Mutex
	self        string
	peer        string
	epoch       uint64
	entries     []Entry
	seen        map[int64]bool // ids in the visible list; reset on Open
	delivered   map[int64]bool // ids ever observed this session; guards the directory
	nextDraftID int64
	reconnected bool
	onUpdate    func()
}

// NewEngine wires an engine to its collaborators and subscribes it to the
// channel's message and state events.
func NewEngine(session Session, store MessageStore, channel RealtimeChannel, dir *Directory, notify Notifier) *Engine {
	if notify == nil {
		notify = NopNotifier{}
	}
	e := &Engine{
		session:     session,
		store:       store,
		channel:     channel,
		dir:         dir,
		notify:      notify,
		self:        session.UserID(),
		seen:        make(map[int64]bool),
		delivered:   make(map[int64]bool),
		nextDraftID: -1,
	}
	channel.On(chat.TypeMessageReceived, e.handleReceived)
	channel.OnStateChange(e.handleConnState)
	return e
}

// OnUpdate registers a callback fired after every visible-state mutation.
func (e *Engine) OnUpdate(fn func()) {
	e.mu.Lock()
	e.onUpdate = fn
	e.mu.Unlock()
}

// Directory returns the conversation directory backing the list view.
func (e *Engine) Directory() *Directory { return e.dir }

// LoadConversations fetches the conversation list and loads the directory.
// On failure the caller presents a retry affordance; nothing retries here.
func (e *Engine) LoadConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	summaries, err := e.store.ListConversations(ctx)
	if err != nil {
		e.notify.Notify("error", "could not load conversations")
		return nil, err
	}
	e.dir.Load(summaries)
	e.changed()
	return e.dir.List(), nil
}

// Open switches the engine to the conversation with peerID: joins its room
// (leaving any previous room) and fetches history. A fetch that resolves
// after the user has navigated on is discarded by its epoch tag.
func (e *Engine) Open(ctx context.Context, peerID string) error {
	e.mu.Lock()
	e.peer = peerID
	e.epoch++
	epoch := e.epoch
	e.entries = nil
	e.seen = make(map[int64]bool)
	e.mu.Unlock()
	e.changed()

	roomID := convid.ConversationID(e.self, peerID)
	if err := e.channel.Join(roomID); err != nil {
		// History still loads; live delivery resumes on reconnect.
		slog.Warn("room join failed", "room_id", roomID, "error", err)
	}

	msgs, err := e.store.ListMessages(ctx, peerID)
	if err != nil {
		e.notify.Notify("error", "could not load messages")
		return err
	}
	e.mergeFetched(epoch, msgs)
	return nil
}

// CloseConversation leaves the open conversation's room and clears the list.
func (e *Engine) CloseConversation() {
	e.mu.Lock()
	peer := e.peer
	e.peer = ""
	e.epoch++
	e.entries = nil
	e.seen = make(map[int64]bool)
	e.mu.Unlock()

	if peer != "" {
		roomID := convid.ConversationID(e.self, peer)
		if err := e.channel.Leave(roomID); err != nil {
			slog.Debug("room leave failed", "room_id", roomID, "error", err)
		}
	}
	e.changed()
}

// Send validates body, appends an optimistic draft, persists it, swaps in
// the canonical record, and publishes the live event. On persistence failure
// the draft stays visible in Failed state for manual retry.
func (e *Engine) Send(ctx context.Context, body string) error {
	e.mu.Lock()
	peer := e.peer
	e.mu.Unlock()
	if peer == "" {
		return &ValidationError{Field: "conversation", Reason: "no conversation open"}
	}

	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return &ValidationError{Field: "body", Reason: "must not be empty"}
	}

	e.mu.Lock()
	epoch := e.epoch
	draftID := e.nextDraftID
	e.nextDraftID--
	draft := Entry{
		Message: models.Message{
			ID:             draftID,
			ConversationID: convid.ConversationID(e.self, peer),
			SenderID:       e.self,
			ReceiverID:     peer,
			Body:           trimmed,
			CreatedAt:      time.Now(),
		},
		State: Persisting,
	}
	e.entries = append(e.entries, draft)
	e.mu.Unlock()
	e.changed()

	return e.persist(ctx, peer, draftID, trimmed, epoch)
}

// Retry re-attempts a failed draft identified by its temporary id.
func (e *Engine) Retry(ctx context.Context, draftID int64) error {
	e.mu.Lock()
	idx := e.findLocked(draftID)
	if idx < 0 || e.entries[idx].State != Failed {
		e.mu.Unlock()
		return &ValidationError{Field: "draft", Reason: "no failed draft with that id"}
	}
	e.entries[idx].State = Persisting
	peer := e.entries[idx].Message.ReceiverID
	body := e.entries[idx].Message.Body
	epoch := e.epoch
	e.mu.Unlock()
	e.changed()

	return e.persist(ctx, peer, draftID, body, epoch)
}

// persist runs the Persisting half of the send lifecycle. The epoch guards
// the visible list: if the user navigated to another conversation while the
// request was in flight, the canonical record only lands in the directory,
// never in the wrong message list.
func (e *Engine) persist(ctx context.Context, peer string, draftID int64, body string, epoch uint64) error {
	msg, err := e.store.SendMessage(ctx, peer, body)
	if err != nil {
		e.mu.Lock()
		if idx := e.findLocked(draftID); idx >= 0 {
			e.entries[idx].State = Failed
		}
		e.mu.Unlock()
		e.changed()
		e.notify.Notify("error", "message not sent")
		return err
	}

	e.mu.Lock()
	if e.epoch == epoch {
		if idx := e.findLocked(draftID); idx >= 0 {
			e.removeLocked(idx)
		}
		e.insertLocked(*msg, Persisted)
	}
	e.delivered[msg.ID] = true
	e.mu.Unlock()
	e.dir.ApplyMessage(*msg, e.self)
	e.changed()

	if err := e.channel.Emit(chat.TypePublishMessage, msg); err != nil {
		// The peer recovers it from history on next open; nothing is lost.
		slog.Debug("publish after persist failed", "message_id", msg.ID, "error", err)
		return nil
	}
	e.mu.Lock()
	if e.epoch == epoch {
		if idx := e.findLocked(msg.ID); idx >= 0 {
			e.entries[idx].State = Published
		}
	}
	e.mu.Unlock()
	return nil
}

// MarkRead acknowledges every message from peerID as read. Idempotent; the
// unread count resets only through this call, never by opening the
// conversation.
func (e *Engine) MarkRead(ctx context.Context, peerID string) error {
	if err := e.store.MarkRead(ctx, peerID); err != nil {
		e.notify.Notify("error", "could not mark conversation read")
		return err
	}
	e.dir.MarkRead(peerID)

	e.mu.Lock()
	if e.peer == peerID {
		for i := range e.entries {
			if e.entries[i].Message.SenderID == peerID {
				e.entries[i].Message.IsRead = true
			}
		}
	}
	e.mu.Unlock()
	e.changed()
	return nil
}

// Messages returns a snapshot of the open conversation's merged list.
func (e *Engine) Messages() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

// OpenPeer returns the peer of the open conversation, or "".
func (e *Engine) OpenPeer() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

func (e *Engine) handleReceived(payload json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		slog.Debug("bad message-received payload", "error", err)
		return
	}
	// Self-origin filter: our own broadcast must never re-append.
	if msg.SenderID == e.self {
		return
	}

	e.mu.Lock()
	if e.delivered[msg.ID] {
		// Second delivery of the same fact; the first one already counted.
		e.mu.Unlock()
		return
	}
	e.delivered[msg.ID] = true
	if e.peer != "" && msg.ConversationID == convid.ConversationID(e.self, e.peer) {
		e.insertLocked(msg, Persisted)
	}
	e.mu.Unlock()

	e.dir.ApplyMessage(msg, e.self)
	e.changed()
}

// handleConnState re-fetches history after the transport recovers, since
// events emitted while disconnected were dropped by the channel.
func (e *Engine) handleConnState(s ConnState) {
	e.mu.Lock()
	wasDown := e.reconnected
	e.reconnected = s == StateReconnecting || s == StateDisconnected
	peer := e.peer
	epoch := e.epoch
	e.mu.Unlock()

	if s != StateConnected || !wasDown || peer == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		msgs, err := e.store.ListMessages(ctx, peer)
		if err != nil {
			slog.Warn("resync after reconnect failed", "peer_id", peer, "error", err)
			return
		}
		e.mergeFetched(epoch, msgs)
	}()
}

// mergeFetched folds an authoritative history response into the visible
// list, unless the conversation it was issued for is no longer open.
func (e *Engine) mergeFetched(epoch uint64, msgs []models.Message) {
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return
	}
	for _, m := range msgs {
		e.insertLocked(m, Persisted)
	}
	e.mu.Unlock()
	e.changed()
}

// insertLocked adds a canonical message in (createdAt, id) order. A message
// whose id is already present is discarded, making the merge idempotent.
func (e *Engine) insertLocked(msg models.Message, state DeliveryState) {
	if e.seen[msg.ID] {
		return
	}
	e.seen[msg.ID] = true
	e.delivered[msg.ID] = true

	entry := Entry{Message: msg, State: state}
	pos := len(e.entries)
	for pos > 0 && entryAfter(e.entries[pos-1].Message, msg) {
		pos--
	}
	e.entries = append(e.entries, Entry{})
	copy(e.entries[pos+1:], e.entries[pos:])
	e.entries[pos] = entry
}

func (e *Engine) removeLocked(idx int) {
	e.entries = append(e.entries[:idx], e.entries[idx+1:]...)
}

func (e *Engine) findLocked(id int64) int {
	for i := range e.entries {
		if e.entries[i].Message.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) changed() {
	e.mu.Lock()
	fn := e.onUpdate
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// entryAfter orders a strictly after b: createdAt ascending, id on ties.
// Drafts sort by their provisional timestamp like any other entry.
func entryAfter(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
