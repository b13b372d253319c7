// internal/storage/postgres.go
package storage

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"chat-sync/internal/model"
)

// EventPublisher receives a row-level change event after every successful
// message write. The store is the only emitter; listeners fold the events
// into their transcripts.
type EventPublisher interface {
	PublishChange(chatID string, ev model.ChangeEvent) error
}

type Storage struct {
	DB     *sql.DB
	events EventPublisher
}

func NewStorage(dsn string) (*Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Storage{DB: db}, nil
}

// SetEventPublisher attaches the change feed emitter. Writes performed before
// this is called do not emit events.
func (s *Storage) SetEventPublisher(p EventPublisher) {
	s.events = p
}

// EnsureSchema creates the chat tables if they do not exist
func (s *Storage) EnsureSchema() error {
	_, err := s.DB.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			id UUID PRIMARY KEY,
			username TEXT NOT NULL,
			avatar_url TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS chats (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			is_direct BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS chat_members (
			chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, user_id)
		);
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			sender_id UUID NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			images TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_edited BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat_created
			ON messages (chat_id, created_at);
		CREATE TABLE IF NOT EXISTS friends (
			user_id UUID NOT NULL,
			friend_id UUID NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, friend_id)
		);`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// InsertMessage persists one message row. The created_at timestamp is
// server-assigned; the row as stored is written back into m and emitted
// as an INSERT change event.
func (s *Storage) InsertMessage(m *model.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Images == nil {
		m.Images = []string{} // nil would encode as NULL, column is NOT NULL
	}
	query := `
		INSERT INTO messages (id, chat_id, sender_id, content, images)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := s.DB.QueryRow(query, m.ID, m.ChatID, m.SenderID, m.Content, pq.Array(m.Images)).
		Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	// live watchers render the row straight from the INSERT event, so carry
	// the sender's display metadata the way snapshot reads do
	if err := s.DB.QueryRow(`SELECT username, avatar_url FROM profiles WHERE id = $1`, m.SenderID).
		Scan(&m.SenderName, &m.SenderAvatar); err != nil && err != sql.ErrNoRows {
		log.Printf("[Storage] Failed to join sender profile for message %s: %v", m.ID, err)
	}

	s.publish(m.ChatID, model.ChangeEvent{Type: model.EventInsert, New: m})
	return nil
}

// UpdateMessageContent replaces a message's content and marks it edited.
// Attachments and created_at are never touched here.
func (s *Storage) UpdateMessageContent(id uuid.UUID, content string) (*model.Message, error) {
	query := `
		UPDATE messages
		SET content = $1, is_edited = TRUE
		WHERE id = $2
		RETURNING id, chat_id, sender_id, content, images, created_at, is_edited
	`
	m, err := scanMessage(s.DB.QueryRow(query, content, id))
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	s.publish(m.ChatID, model.ChangeEvent{Type: model.EventUpdate, New: m})
	return m, nil
}

// DeleteMessage removes a message row and returns the row as it was.
func (s *Storage) DeleteMessage(id uuid.UUID) (*model.Message, error) {
	query := `
		DELETE FROM messages
		WHERE id = $1
		RETURNING id, chat_id, sender_id, content, images, created_at, is_edited
	`
	m, err := scanMessage(s.DB.QueryRow(query, id))
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}

	s.publish(m.ChatID, model.ChangeEvent{Type: model.EventDelete, Old: m})
	return m, nil
}

// GetMessage fetches a single message row by id
func (s *Storage) GetMessage(id uuid.UUID) (*model.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, content, images, created_at, is_edited
		FROM messages
		WHERE id = $1
	`
	return scanMessage(s.DB.QueryRow(query, id))
}

// ListMessages returns a chat's full transcript snapshot, oldest first,
// joined with the sender's display metadata.
func (s *Storage) ListMessages(chatID uuid.UUID) ([]model.Message, error) {
	query := `
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.images,
		       m.created_at, m.is_edited,
		       COALESCE(p.username, ''), COALESCE(p.avatar_url, '')
		FROM messages m
		LEFT JOIN profiles p ON p.id = m.sender_id
		WHERE m.chat_id = $1
		ORDER BY m.created_at ASC
	`
	rows, err := s.DB.Query(query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content,
			pq.Array(&m.Images), &m.CreatedAt, &m.IsEdited,
			&m.SenderName, &m.SenderAvatar); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Storage) publish(chatID uuid.UUID, ev model.ChangeEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishChange(chatID.String(), ev); err != nil {
		log.Printf("[Storage] Failed to publish %s event for chat %s: %v", ev.Type, chatID, err)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content,
		pq.Array(&m.Images), &m.CreatedAt, &m.IsEdited)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
