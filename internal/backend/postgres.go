package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres talks to the backend database directly, bypassing PostgREST.
// Used for self-hosted deployments and integration tests.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) InsertMessage(ctx context.Context, m NewMessage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, media_url, media_type, reply_to_message_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ConversationID, m.SenderID, m.Content, m.MediaURL, m.MediaType, m.ReplyToMessageID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (p *Postgres) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("participant check: %w", err)
	}
	return exists, nil
}

func (p *Postgres) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var fullName, username, avatar sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT full_name, username, avatar_url FROM profiles WHERE id = $1`, userID).
		Scan(&fullName, &username, &avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &Profile{
		ID:        userID,
		FullName:  fullName.String,
		Username:  username.String,
		AvatarURL: avatar.String,
	}, nil
}

func (p *Postgres) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
