// internal/session/redis.go
package session

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Store keeps small per-user UI state. Today that is just the last open
// conversation, which used to hide in browser local storage and is now an
// explicit piece of persisted state.
type Store struct {
	rdb *redis.Client
}

func NewStore(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func lastChatKey(userID uuid.UUID) string {
	return "session:last_chat:" + userID.String()
}

// SetLastOpenChat records the conversation the user has open
func (s *Store) SetLastOpenChat(ctx context.Context, userID, chatID uuid.UUID) error {
	return s.rdb.Set(ctx, lastChatKey(userID), chatID.String(), 0).Err()
}

// LastOpenChat returns the recorded conversation, or uuid.Nil if none
func (s *Store) LastOpenChat(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	val, err := s.rdb.Get(ctx, lastChatKey(userID)).Result()
	if err == redis.Nil {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(val)
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
