// internal/model/chat.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type Chat struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsDirect  bool      `db:"is_direct" json:"is_direct"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type ChatMember struct {
	ChatID   uuid.UUID `db:"chat_id" json:"chat_id"`
	UserID   uuid.UUID `db:"user_id" json:"user_id"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

type Profile struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	AvatarURL string    `db:"avatar_url" json:"avatar_url"`
}

// Friend request states, a two-row status flag on the friends table.
const (
	FriendPending  = "pending"
	FriendAccepted = "accepted"
)

type Friend struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	FriendID  uuid.UUID `db:"friend_id" json:"friend_id"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
