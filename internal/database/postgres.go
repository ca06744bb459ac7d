package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Vishalthakur9634/course-chat/internal/convid"
	"github.com/Vishalthakur9634/course-chat/internal/models"
)

func InitDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// --- Users ---

func CreateUser(db *sql.DB, username, email, passwordHash, role string) (*models.User, error) {
	var u models.User
	err := db.QueryRow(
		`INSERT INTO users (username, email, password, role) VALUES ($1, $2, $3, $4)
		 RETURNING id, username, email, role, avatar_url, created_at`,
		username, email, passwordHash, role,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}

func GetUserByUsername(db *sql.DB, username string) (*models.User, error) {
	var u models.User
	err := db.QueryRow(
		`SELECT id, username, email, password, role, avatar_url, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.Role, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func GetUserByID(db *sql.DB, id string) (*models.User, error) {
	var u models.User
	err := db.QueryRow(
		`SELECT id, username, email, role, avatar_url, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func SearchUsers(db *sql.DB, query string, limit int) ([]models.User, error) {
	rows, err := db.Query(
		`SELECT id, username, email, role, avatar_url, created_at FROM users
		 WHERE username ILIKE $1 LIMIT $2`,
		"%"+query+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.AvatarURL, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

// --- Messages ---

func CreateMessage(db *sql.DB, senderID, receiverID, body, attachmentURL string) (*models.Message, error) {
	conversationID := convid.ConversationID(senderID, receiverID)
	var m models.Message
	err := db.QueryRow(
		`INSERT INTO messages (conversation_id, sender_id, receiver_id, body, attachment_url)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, conversation_id, sender_id, receiver_id, body, attachment_url, is_read, created_at`,
		conversationID, senderID, receiverID, body, attachmentURL,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Body, &m.AttachmentURL, &m.IsRead, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &m, nil
}

// GetMessages returns the full history of one conversation, oldest first,
// ties broken by id. Unknown conversations come back as an empty list.
func GetMessages(db *sql.DB, conversationID string) ([]models.Message, error) {
	rows, err := db.Query(
		`SELECT id, conversation_id, sender_id, receiver_id, body, attachment_url, is_read, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Body,
			&m.AttachmentURL, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

// GetConversationSummaries derives the conversation list for userID: one row
// per peer with the last message and the count of unread messages addressed
// to userID, ordered by last activity descending.
func GetConversationSummaries(db *sql.DB, userID string) ([]models.ConversationSummary, error) {
	rows, err := db.Query(`
		SELECT u.id, u.username, u.avatar_url,
		       lm.id, lm.conversation_id, lm.sender_id, lm.receiver_id, lm.body,
		       lm.attachment_url, lm.is_read, lm.created_at,
		       COALESCE(un.cnt, 0)
		FROM (
		    SELECT DISTINCT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS peer_id
		    FROM messages WHERE sender_id = $1 OR receiver_id = $1
		) p
		JOIN users u ON u.id = p.peer_id
		LEFT JOIN LATERAL (
		    SELECT m.id, m.conversation_id, m.sender_id, m.receiver_id, m.body,
		           m.attachment_url, m.is_read, m.created_at
		    FROM messages m
		    WHERE m.conversation_id = LEAST($1::text, p.peer_id::text) || '_' || GREATEST($1::text, p.peer_id::text)
		    ORDER BY m.created_at DESC, m.id DESC LIMIT 1
		) lm ON true
		LEFT JOIN LATERAL (
		    SELECT COUNT(*) AS cnt FROM messages m
		    WHERE m.conversation_id = LEAST($1::text, p.peer_id::text) || '_' || GREATEST($1::text, p.peer_id::text)
		      AND m.receiver_id = $1 AND NOT m.is_read
		) un ON true
		ORDER BY lm.created_at DESC NULLS LAST, u.id::text ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var s models.ConversationSummary
		var m models.Message
		var msgID sql.NullInt64
		var convID, senderID, receiverID, body, attachmentURL sql.NullString
		var isRead sql.NullBool
		var createdAt sql.NullTime
		if err := rows.Scan(&s.PeerID, &s.PeerUsername, &s.PeerAvatarURL,
			&msgID, &convID, &senderID, &receiverID, &body,
			&attachmentURL, &isRead, &createdAt, &s.UnreadCount); err != nil {
			return nil, err
		}
		if msgID.Valid {
			m = models.Message{
				ID:             msgID.Int64,
				ConversationID: convID.String,
				SenderID:       senderID.String,
				ReceiverID:     receiverID.String,
				Body:           body.String,
				AttachmentURL:  attachmentURL.String,
				IsRead:         isRead.Bool,
				CreatedAt:      createdAt.Time,
			}
			s.LastMessage = &m
			t := createdAt.Time
			s.LastMessageAt = &t
		}
		summaries = append(summaries, s)
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}
	return summaries, nil
}

// MarkConversationRead marks every message addressed to userID in the
// conversation as read. Repeated calls are no-ops.
func MarkConversationRead(db *sql.DB, conversationID, userID string) error {
	_, err := db.Exec(
		`UPDATE messages SET is_read = TRUE
		 WHERE conversation_id = $1 AND receiver_id = $2 AND NOT is_read`,
		conversationID, userID,
	)
	return err
}
