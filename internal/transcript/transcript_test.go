package transcript

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/model"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(id uuid.UUID, offset time.Duration, content string) model.Message {
	return model.Message{
		ID:        id,
		ChatID:    uuid.Nil,
		Content:   content,
		CreatedAt: base.Add(offset),
	}
}

func insertEvent(m model.Message) model.ChangeEvent {
	return model.ChangeEvent{Type: model.EventInsert, New: &m}
}

func ids(msgs []model.Message) []uuid.UUID {
	out := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestInsertKeepsTimestampOrder(t *testing.T) {
	s := New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	// deliberately out of order
	require.True(t, s.ApplyDelta(insertEvent(msg(b, 2*time.Second, "b"))))
	require.True(t, s.ApplyDelta(insertEvent(msg(a, 1*time.Second, "a"))))
	require.True(t, s.ApplyDelta(insertEvent(msg(c, 3*time.Second, "c"))))

	require.Equal(t, []uuid.UUID{a, b, c}, ids(s.Messages()))
}

func TestInsertDuplicateIsNoOp(t *testing.T) {
	s := New()
	a := uuid.New()

	require.True(t, s.ApplyDelta(insertEvent(msg(a, 0, "first"))))
	require.False(t, s.ApplyDelta(insertEvent(msg(a, 0, "duplicate delivery"))))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "first", msgs[0].Content)
}

func TestUpdateMissingIsNoOp(t *testing.T) {
	s := New()
	m := msg(uuid.New(), 0, "late")
	require.False(t, s.ApplyDelta(model.ChangeEvent{Type: model.EventUpdate, New: &m}))
	require.Zero(t, s.Len())
}

func TestUpdateReplacesFieldsKeepsOrder(t *testing.T) {
	s := New()
	a, b := uuid.New(), uuid.New()
	s.ApplyDelta(insertEvent(msg(a, time.Second, "foo")))
	s.ApplyDelta(insertEvent(msg(b, 2*time.Second, "bar")))

	edited := msg(a, time.Second, "foo!")
	edited.IsEdited = true
	require.True(t, s.ApplyDelta(model.ChangeEvent{Type: model.EventUpdate, New: &edited}))

	msgs := s.Messages()
	require.Equal(t, []uuid.UUID{a, b}, ids(msgs))
	require.Equal(t, "foo!", msgs[0].Content)
	require.True(t, msgs[0].IsEdited)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := New()
	a := uuid.New()
	s.ApplyDelta(insertEvent(msg(a, 0, "x")))

	old := msg(a, 0, "x")
	del := model.ChangeEvent{Type: model.EventDelete, Old: &old}
	require.True(t, s.ApplyDelta(del))
	require.False(t, s.ApplyDelta(del)) // already absent
	require.Zero(t, s.Len())
}

func TestDeleteWinsOverStaleSnapshot(t *testing.T) {
	s := New()
	a, b := uuid.New(), uuid.New()
	s.ApplySnapshot([]model.Message{msg(a, time.Second, "a"), msg(b, 2*time.Second, "b")})

	old := msg(a, time.Second, "a")
	s.ApplyDelta(model.ChangeEvent{Type: model.EventDelete, Old: &old})

	// a slow refetch still carrying the deleted row races in afterward
	s.ApplySnapshot([]model.Message{msg(a, time.Second, "a"), msg(b, 2*time.Second, "b")})

	require.Equal(t, []uuid.UUID{b}, ids(s.Messages()))
}

func TestTombstoneBlocksLateInsert(t *testing.T) {
	s := New()
	a := uuid.New()
	old := msg(a, 0, "x")
	s.ApplyDelta(model.ChangeEvent{Type: model.EventDelete, Old: &old})

	// duplicate INSERT delivered after the delete
	require.False(t, s.ApplyDelta(insertEvent(msg(a, 0, "x"))))
	require.Zero(t, s.Len())
}

func TestTwoPhaseDeleteConfirm(t *testing.T) {
	s := New()
	a := uuid.New()
	s.ApplyDelta(insertEvent(msg(a, 0, "x")))

	require.True(t, s.MarkDeleting(a))
	require.Zero(t, s.Len()) // hidden while pending

	s.ConfirmDelete(a)
	s.ApplySnapshot([]model.Message{msg(a, 0, "x")})
	require.Zero(t, s.Len())
}

func TestTwoPhaseDeleteRevert(t *testing.T) {
	s := New()
	a, b := uuid.New(), uuid.New()
	s.ApplyDelta(insertEvent(msg(a, time.Second, "a")))
	s.ApplyDelta(insertEvent(msg(b, 2*time.Second, "b")))

	require.True(t, s.MarkDeleting(a))
	s.RevertDelete(a)

	require.Equal(t, []uuid.UUID{a, b}, ids(s.Messages()))
}

func TestArbitraryInterleavingNeverBreaksInvariants(t *testing.T) {
	s := New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	oldB := msg(b, 2*time.Second, "b")
	updC := msg(c, 3*time.Second, "c2")

	events := []model.ChangeEvent{
		insertEvent(msg(c, 3*time.Second, "c")),
		insertEvent(msg(a, time.Second, "a")),
		insertEvent(msg(c, 3*time.Second, "c")), // duplicate
		{Type: model.EventDelete, Old: &oldB},   // delete before its insert
		insertEvent(msg(b, 2*time.Second, "b")), // blocked by tombstone
		{Type: model.EventUpdate, New: &updC},
		{Type: model.EventDelete, Old: &oldB}, // duplicate delete
	}
	for _, ev := range events {
		s.ApplyDelta(ev)
	}

	msgs := s.Messages()
	require.Equal(t, []uuid.UUID{a, c}, ids(msgs))
	require.Equal(t, "c2", msgs[1].Content)

	seen := make(map[uuid.UUID]bool)
	for i, m := range msgs {
		require.False(t, seen[m.ID], "duplicate id in transcript")
		seen[m.ID] = true
		if i > 0 {
			require.False(t, m.CreatedAt.Before(msgs[i-1].CreatedAt), "out of order")
		}
	}
}

func TestSnapshotDropsDuplicatesAndSorts(t *testing.T) {
	s := New()
	a, b := uuid.New(), uuid.New()
	s.ApplySnapshot([]model.Message{
		msg(b, 2*time.Second, "b"),
		msg(a, time.Second, "a"),
		msg(b, 2*time.Second, "b again"),
	})
	require.Equal(t, []uuid.UUID{a, b}, ids(s.Messages()))
}
