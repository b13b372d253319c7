// internal/storage/friends.go
package storage

import (
	"fmt"

	"github.com/google/uuid"

	"chat-sync/internal/model"
)

// CreateFriendRequest records a pending request from userID to friendID
func (s *Storage) CreateFriendRequest(userID, friendID uuid.UUID) error {
	_, err := s.DB.Exec(`
		INSERT INTO friends (user_id, friend_id, status)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING
	`, userID, friendID, model.FriendPending)
	if err != nil {
		return fmt.Errorf("create friend request: %w", err)
	}
	return nil
}

// AcceptFriendRequest flips the pending row to accepted and writes the
// reciprocal row, so friendship reads the same from both sides.
func (s *Storage) AcceptFriendRequest(userID, friendID uuid.UUID) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE friends SET status = $1
		WHERE user_id = $2 AND friend_id = $3 AND status = $4
	`, model.FriendAccepted, friendID, userID, model.FriendPending)
	if err != nil {
		return fmt.Errorf("accept friend request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no pending request from %s", friendID)
	}

	_, err = tx.Exec(`
		INSERT INTO friends (user_id, friend_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, friend_id) DO UPDATE SET status = $3
	`, userID, friendID, model.FriendAccepted)
	if err != nil {
		return fmt.Errorf("accept friend request: %w", err)
	}
	return tx.Commit()
}

// ListFriends returns the user's friend rows, pending and accepted
func (s *Storage) ListFriends(userID uuid.UUID) ([]model.Friend, error) {
	rows, err := s.DB.Query(`
		SELECT user_id, friend_id, status, created_at
		FROM friends
		WHERE user_id = $1 OR (friend_id = $1 AND status = $2)
		ORDER BY created_at
	`, userID, model.FriendPending)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	var friends []model.Friend
	for rows.Next() {
		var f model.Friend
		if err := rows.Scan(&f.UserID, &f.FriendID, &f.Status, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}
