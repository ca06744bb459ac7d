package handlers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Vishalthakur9634/course-chat/internal/auth"
	"github.com/Vishalthakur9634/course-chat/internal/convid"
	"github.com/Vishalthakur9634/course-chat/internal/database"
)

const maxBodyLength = 2000

// ListConversations returns the caller's conversation summaries ordered by
// last activity.
func ListConversations(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(auth.UserIDKey).(string)
		summaries, err := database.GetConversationSummaries(db, userID)
		if err != nil {
			slog.Error("failed to list conversations", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

// GetMessages returns the full history with a peer, oldest first. A peer the
// caller has never messaged yields an empty list.
func GetMessages(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID := mux.Vars(r)["peerId"]
		userID := r.Context().Value(auth.UserIDKey).(string)

		messages, err := database.GetMessages(db, convid.ConversationID(userID, peerID))
		if err != nil {
			slog.Error("failed to get messages", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, messages)
	}
}

// SendMessage persists a message and returns the canonical record with its
// server-assigned id.
func SendMessage(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(auth.UserIDKey).(string)

		var req struct {
			ReceiverID    string `json:"receiver_id"`
			Body          string `json:"body"`
			AttachmentURL string `json:"attachment_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req.Body = strings.TrimSpace(req.Body)
		if req.Body == "" {
			writeError(w, http.StatusBadRequest, "body is required")
			return
		}
		if len(req.Body) > maxBodyLength {
			writeError(w, http.StatusBadRequest, "body too long")
			return
		}
		if req.ReceiverID == "" || req.ReceiverID == userID {
			writeError(w, http.StatusBadRequest, "valid receiver_id is required")
			return
		}

		receiver, err := database.GetUserByID(db, req.ReceiverID)
		if err != nil || receiver == nil {
			writeError(w, http.StatusNotFound, "receiver not found")
			return
		}

		msg, err := database.CreateMessage(db, userID, req.ReceiverID, req.Body, req.AttachmentURL)
		if err != nil {
			slog.Error("failed to create message", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusCreated, msg)
	}
}

// MarkRead marks every message from the peer as read. Idempotent.
func MarkRead(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID := mux.Vars(r)["peerId"]
		userID := r.Context().Value(auth.UserIDKey).(string)

		if err := database.MarkConversationRead(db, convid.ConversationID(userID, peerID), userID); err != nil {
			slog.Error("failed to mark conversation read", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
