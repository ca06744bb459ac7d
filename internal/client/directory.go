package client

import (
	"sort"
	"sync"
	"time"

	"github.com/Vishalthakur9634/course-chat/internal/models"
)

// Directory maintains the in-memory conversation list. It is re-derived from
// three inputs: the initial ListConversations result, messages arriving live
// or via send, and explicit mark-read acknowledgements. Opening a
// conversation never changes unread counts; only MarkRead does.
type Directory struct {
	mu     sync.Mutex
	byPeer map[string]*models.ConversationSummary
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{byPeer: make(map[string]*models.ConversationSummary)}
}

// Load replaces the directory contents with an authoritative listing.
func (d *Directory) Load(summaries []models.ConversationSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byPeer = make(map[string]*models.ConversationSummary, len(summaries))
	for i := range summaries {
		s := summaries[i]
		d.byPeer[s.PeerID] = &s
	}
}

// ApplyMessage folds one message into the summary for its conversation.
// Incoming messages that are still unread bump the unread count by exactly
// one; the count only ever returns to zero through MarkRead.
func (d *Directory) ApplyMessage(msg models.Message, currentUserID string) {
	peerID := msg.SenderID
	if peerID == currentUserID {
		peerID = msg.ReceiverID
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.byPeer[peerID]
	if !ok {
		s = &models.ConversationSummary{PeerID: peerID}
		d.byPeer[peerID] = s
	}

	if s.LastMessage == nil || after(msg, *s.LastMessage) {
		m := msg
		s.LastMessage = &m
		t := msg.CreatedAt
		s.LastMessageAt = &t
	}
	if msg.SenderID != currentUserID && !msg.IsRead {
		s.UnreadCount++
	}
}

// MarkRead zeroes the unread count for peerID.
func (d *Directory) MarkRead(peerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.byPeer[peerID]; ok {
		s.UnreadCount = 0
	}
}

// Unread returns the unread count for peerID.
func (d *Directory) Unread(peerID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.byPeer[peerID]; ok {
		return s.UnreadCount
	}
	return 0
}

// List returns the summaries ordered by last activity descending, peer id
// ascending on equal timestamps.
func (d *Directory) List() []models.ConversationSummary {
	d.mu.Lock()
	out := make([]models.ConversationSummary, 0, len(d.byPeer))
	for _, s := range d.byPeer {
		out = append(out, *s)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := summaryTime(out[i]), summaryTime(out[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].PeerID < out[j].PeerID
	})
	return out
}

func summaryTime(s models.ConversationSummary) time.Time {
	if s.LastMessageAt == nil {
		return time.Time{}
	}
	return *s.LastMessageAt
}

// after orders messages by creation time, id on ties.
func after(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
