// internal/model/message.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Message is one unit of conversation content. Images holds the public URLs of
// any attachments; a message carries text, images, or both.
type Message struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ChatID    uuid.UUID `db:"chat_id" json:"chat_id"`
	SenderID  uuid.UUID `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"content"`
	Images    []string  `db:"images" json:"images"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	IsEdited  bool      `db:"is_edited" json:"is_edited"`

	// Sender display metadata, joined from profiles on snapshot reads.
	SenderName   string `json:"sender_name,omitempty"`
	SenderAvatar string `json:"sender_avatar,omitempty"`
}

// Change event types, matching the row-level operations the store performs.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// ChangeEvent is a single row-level change notification for a chat's messages.
// New is set for INSERT/UPDATE, Old for UPDATE/DELETE.
type ChangeEvent struct {
	Type string   `json:"type"`
	New  *Message `json:"new,omitempty"`
	Old  *Message `json:"old,omitempty"`
}

// MessageID returns the id the event is about.
func (e ChangeEvent) MessageID() uuid.UUID {
	if e.New != nil {
		return e.New.ID
	}
	if e.Old != nil {
		return e.Old.ID
	}
	return uuid.Nil
}
