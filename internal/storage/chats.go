// internal/storage/chats.go
package storage

import (
	"fmt"

	"github.com/google/uuid"

	"chat-sync/internal/model"
)

// CreateChat inserts a chat and makes the creator its first member
func (s *Storage) CreateChat(name string, isDirect bool, creatorID uuid.UUID) (*model.Chat, error) {
	c := &model.Chat{ID: uuid.New(), Name: name, IsDirect: isDirect}
	err := s.DB.QueryRow(`
		INSERT INTO chats (id, name, is_direct)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, c.ID, c.Name, c.IsDirect).Scan(&c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	if err := s.AddMember(c.ID, creatorID); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Storage) AddMember(chatID, userID uuid.UUID) error {
	_, err := s.DB.Exec(`
		INSERT INTO chat_members (chat_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, chatID, userID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// ListChats returns the chats the user is a member of, newest first
func (s *Storage) ListChats(userID uuid.UUID) ([]model.Chat, error) {
	rows, err := s.DB.Query(`
		SELECT c.id, c.name, c.is_direct, c.created_at
		FROM chats c
		JOIN chat_members cm ON cm.chat_id = c.id
		WHERE cm.user_id = $1
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.IsDirect, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ListMemberIDs returns the user ids of a chat's members, used by the
// notification dispatcher as an opaque recipient lookup.
func (s *Storage) ListMemberIDs(chatID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.DB.Query(`SELECT user_id FROM chat_members WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsMember reports whether the user belongs to the chat
func (s *Storage) IsMember(chatID, userID uuid.UUID) (bool, error) {
	var n int
	err := s.DB.QueryRow(`
		SELECT COUNT(1) FROM chat_members WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Storage) UpsertProfile(p *model.Profile) error {
	_, err := s.DB.Exec(`
		INSERT INTO profiles (id, username, avatar_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET username = $2, avatar_url = $3
	`, p.ID, p.Username, p.AvatarURL)
	return err
}

func (s *Storage) GetProfile(id uuid.UUID) (*model.Profile, error) {
	var p model.Profile
	err := s.DB.QueryRow(`
		SELECT id, username, avatar_url FROM profiles WHERE id = $1
	`, id).Scan(&p.ID, &p.Username, &p.AvatarURL)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
