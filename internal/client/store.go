package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Vishalthakur9634/course-chat/internal/models"
)

// Store is the request/response client for the message store API. It performs
// no retries and no user-facing presentation; failures come back as typed
// errors for the engine to handle.
type Store struct {
	BaseURL    string
	HTTPClient *http.Client
	session    Session
}

// NewStore creates a message store client bound to one session.
func NewStore(baseURL string, session Session) *Store {
	return &Store{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		session:    session,
	}
}

// ListConversations returns the current user's conversation summaries,
// ordered by last activity descending.
func (s *Store) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var out []models.ConversationSummary
	if err := s.get(ctx, "list conversations", "/api/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages returns the full history with peerID, oldest first. An unknown
// peer yields an empty list, not an error.
func (s *Store) ListMessages(ctx context.Context, peerID string) ([]models.Message, error) {
	var out []models.Message
	path := "/api/messages/" + url.PathEscape(peerID)
	if err := s.get(ctx, "list messages", path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage persists a new message and returns the canonical record with
// the server-assigned id. An empty body after trimming is rejected before any
// network call.
func (s *Store) SendMessage(ctx context.Context, receiverID, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if receiverID == "" {
		return nil, &ValidationError{Field: "receiver_id", Reason: "must not be empty"}
	}

	req := struct {
		ReceiverID string `json:"receiver_id"`
		Body       string `json:"body"`
	}{ReceiverID: receiverID, Body: body}

	var out models.Message
	if err := s.post(ctx, "send message", "/api/messages/send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead marks every message from peerID as read. Safe to call repeatedly.
func (s *Store) MarkRead(ctx context.Context, peerID string) error {
	path := "/api/messages/" + url.PathEscape(peerID) + "/read"
	return s.post(ctx, "mark read", path, nil, nil)
}

func (s *Store) get(ctx context.Context, op, path string, out interface{}) error {
	return s.do(ctx, op, http.MethodGet, path, nil, out)
}

func (s *Store) post(ctx context.Context, op, path string, in, out interface{}) error {
	var buf io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		buf = bytes.NewReader(data)
	}
	return s.do(ctx, op, http.MethodPost, path, buf, out)
}

func (s *Store) do(ctx context.Context, op, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, body)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+s.session.Token())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &NetworkError{Op: op, Status: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
