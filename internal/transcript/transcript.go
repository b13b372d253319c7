// internal/transcript/transcript.go
package transcript

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"chat-sync/internal/model"
)

// Store is the ordered, deduplicated set of messages for one conversation.
// Rows are unique by id and sorted ascending by created_at; deltas may arrive
// in any interleaving, including duplicates, without breaking either property.
type Store struct {
	mu      sync.RWMutex
	msgs    []model.Message
	present map[uuid.UUID]struct{}

	// tombstones are ids deleted by explicit intent; a stale snapshot that
	// still carries them must not resurrect the rows (delete wins).
	tombstones map[uuid.UUID]struct{}

	// pending holds rows tentatively removed by a local delete that has not
	// been confirmed remotely yet, so a failed delete can be rolled back.
	pending map[uuid.UUID]model.Message
}

func New() *Store {
	return &Store{
		present:    make(map[uuid.UUID]struct{}),
		tombstones: make(map[uuid.UUID]struct{}),
		pending:    make(map[uuid.UUID]model.Message),
	}
}

// ApplySnapshot replaces the full ordered set, dropping any rows that were
// already deleted locally (tombstoned or pending confirmation).
func (s *Store) ApplySnapshot(msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = s.msgs[:0]
	s.present = make(map[uuid.UUID]struct{}, len(msgs))
	for _, m := range msgs {
		if _, gone := s.tombstones[m.ID]; gone {
			continue
		}
		if _, gone := s.pending[m.ID]; gone {
			continue
		}
		if _, dup := s.present[m.ID]; dup {
			continue
		}
		s.msgs = append(s.msgs, m)
		s.present[m.ID] = struct{}{}
	}
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].CreatedAt.Before(s.msgs[j].CreatedAt)
	})
}

// ApplyDelta folds one change event in. Every variant is idempotent, so
// duplicate or late deliveries are safe. Returns whether state changed.
func (s *Store) ApplyDelta(ev model.ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case model.EventInsert:
		if ev.New == nil {
			return false
		}
		return s.insert(*ev.New)

	case model.EventUpdate:
		if ev.New == nil {
			return false
		}
		return s.update(*ev.New)

	case model.EventDelete:
		return s.remove(ev.MessageID())
	}
	return false
}

func (s *Store) insert(m model.Message) bool {
	if _, dup := s.present[m.ID]; dup {
		return false
	}
	if _, gone := s.tombstones[m.ID]; gone {
		return false
	}
	if _, gone := s.pending[m.ID]; gone {
		return false
	}
	// sorted position; equal timestamps keep arrival order
	i := sort.Search(len(s.msgs), func(i int) bool {
		return s.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	s.msgs = append(s.msgs, model.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
	s.present[m.ID] = struct{}{}
	return true
}

func (s *Store) update(m model.Message) bool {
	for i := range s.msgs {
		if s.msgs[i].ID == m.ID {
			// keep joined sender metadata; change events carry bare rows
			if m.SenderName == "" {
				m.SenderName = s.msgs[i].SenderName
				m.SenderAvatar = s.msgs[i].SenderAvatar
			}
			s.msgs[i] = m
			return true
		}
	}
	// stale or late event for a row we no longer have
	return false
}

func (s *Store) remove(id uuid.UUID) bool {
	if id == uuid.Nil {
		return false
	}
	s.tombstones[id] = struct{}{}
	delete(s.pending, id)
	if _, ok := s.present[id]; !ok {
		return false
	}
	delete(s.present, id)
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			break
		}
	}
	return true
}

// MarkDeleting tentatively removes a row ahead of the remote delete call.
// Returns false if the row is not present.
func (s *Store) MarkDeleting(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.msgs {
		if s.msgs[i].ID == id {
			s.pending[id] = s.msgs[i]
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			delete(s.present, id)
			return true
		}
	}
	return false
}

// ConfirmDelete finalizes a tentative removal once the remote delete succeeded
func (s *Store) ConfirmDelete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	s.tombstones[id] = struct{}{}
}

// RevertDelete restores a tentatively removed row after a failed remote delete
func (s *Store) RevertDelete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	s.insert(m)
}

// Messages returns a copy of the ordered transcript
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
