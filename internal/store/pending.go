package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyTempID is returned when enqueuing a message without a temp id.
var ErrEmptyTempID = errors.New("pending message has no temp id")

// EnqueuePending appends a message to the durable queue.
func (db *DB) EnqueuePending(m *PendingMessage) error {
	if m.TempID == "" {
		return ErrEmptyTempID
	}
	if m.CreatedAtLocal.IsZero() {
		m.CreatedAtLocal = time.Now()
	}
	res, err := db.Exec(`
		INSERT INTO pending_messages (temp_id, conversation_id, content, media_url, media_type, reply_to_message_id, created_at_local)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.TempID, m.ConversationID, nullable(m.Content), nullable(m.MediaURL), nullable(m.MediaType),
		nullable(m.ReplyToMessageID), m.CreatedAtLocal.UnixMilli())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", m.TempID, err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		m.Seq = seq
	}
	return nil
}

// ListPending returns every queued message in insertion order.
func (db *DB) ListPending() ([]PendingMessage, error) {
	rows, err := db.Query(`
		SELECT seq, temp_id, conversation_id, content, media_url, media_type, reply_to_message_id, created_at_local
		FROM pending_messages ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []PendingMessage
	for rows.Next() {
		var m PendingMessage
		var content, mediaURL, mediaType, replyTo sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.Seq, &m.TempID, &m.ConversationID, &content, &mediaURL, &mediaType, &replyTo, &createdAt); err != nil {
			return nil, err
		}
		m.Content = ptr(content)
		m.MediaURL = ptr(mediaURL)
		m.MediaType = ptr(mediaType)
		m.ReplyToMessageID = ptr(replyTo)
		m.CreatedAtLocal = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RemovePending deletes the entry with tempID. Removing an id that is not
// queued is a no-op.
func (db *DB) RemovePending(tempID string) error {
	_, err := db.Exec(`DELETE FROM pending_messages WHERE temp_id = ?`, tempID)
	return err
}

// PendingCount returns the number of queued messages.
func (db *DB) PendingCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_messages`).Scan(&n)
	return n, err
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
