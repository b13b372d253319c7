package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/model"
)

func TestSendRejectsEmptyMessage(t *testing.T) {
	store := &fakeStore{}
	eng, up, nt := testEngine(store, newFakeFeed())

	_, err := eng.Send(context.Background(), uuid.New(), uuid.New(), "   ", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)

	// no network calls of any kind were issued
	require.Empty(t, store.inserted)
	require.Empty(t, up.uploads)
	require.Empty(t, nt.previews())
}

func TestSendPersistsOneRowWithAllURLs(t *testing.T) {
	store := &fakeStore{}
	eng, _, nt := testEngine(store, newFakeFeed())
	chatID, senderID := uuid.New(), uuid.New()

	res, err := eng.Send(context.Background(), chatID, senderID, "hello", []Attachment{
		{Name: "a.png", Data: []byte("aa")},
		{Name: "b.png", Data: []byte("bb")},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Uploaded)
	require.Zero(t, res.Failed)

	require.Len(t, store.inserted, 1)
	m := store.inserted[0]
	require.Equal(t, "hello", m.Content)
	require.Equal(t, []string{"https://cdn.test/a.png", "https://cdn.test/b.png"}, m.Images)
	require.Equal(t, chatID, m.ChatID)
	require.Equal(t, senderID, m.SenderID)

	select {
	case <-nt.fired:
		require.Equal(t, []string{"hello"}, nt.previews())
	case <-time.After(time.Second):
		t.Fatal("notifier was not fired")
	}
}

func TestSendSurvivesPartialUploadFailure(t *testing.T) {
	store := &fakeStore{}
	ff := newFakeFeed()
	eng, up, _ := testEngine(store, ff)
	up.fail["bad.png"] = true

	res, err := eng.Send(context.Background(), uuid.New(), uuid.New(), "hi", []Attachment{
		{Name: "bad.png"},
		{Name: "good.png"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Uploaded)
	require.Equal(t, 1, res.Failed)

	require.Len(t, store.inserted, 1)
	require.Equal(t, []string{"https://cdn.test/good.png"}, store.inserted[0].Images)
}

func TestSendFailsWhenNothingSurvives(t *testing.T) {
	store := &fakeStore{}
	eng, up, _ := testEngine(store, newFakeFeed())
	up.fail["only.png"] = true

	_, err := eng.Send(context.Background(), uuid.New(), uuid.New(), "", []Attachment{
		{Name: "only.png"},
	})
	require.ErrorIs(t, err, ErrUploadFailed)
	require.Empty(t, store.inserted)
}

func TestSendPersistFailureResetsInFlightFlag(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("connection refused")}
	eng, _, nt := testEngine(store, newFakeFeed())
	chatID := uuid.New()

	_, err := eng.Send(context.Background(), chatID, uuid.New(), "hello", nil)
	require.ErrorIs(t, err, ErrPersistFailed)
	require.False(t, eng.Sending(chatID))
	require.Empty(t, nt.previews()) // nothing to announce

	// the user can retry immediately
	store.mu.Lock()
	store.insertErr = nil
	store.mu.Unlock()
	_, err = eng.Send(context.Background(), chatID, uuid.New(), "hello", nil)
	require.NoError(t, err)
}

func TestSendGuardsAgainstDoubleSubmit(t *testing.T) {
	store := &fakeStore{}
	eng, up, _ := testEngine(store, newFakeFeed())
	chatID := uuid.New()
	up.block = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := eng.Send(context.Background(), chatID, uuid.New(), "slow", []Attachment{{Name: "x.png"}})
		first <- err
	}()

	waitFor(t, func() bool { return eng.Sending(chatID) })

	_, err := eng.Send(context.Background(), chatID, uuid.New(), "fast", nil)
	require.ErrorIs(t, err, ErrSendInFlight)

	close(up.block)
	require.NoError(t, <-first)
	require.False(t, eng.Sending(chatID))
}

func TestAttachmentOnlySendUsesPlaceholderPreview(t *testing.T) {
	store := &fakeStore{}
	eng, _, nt := testEngine(store, newFakeFeed())

	_, err := eng.Send(context.Background(), uuid.New(), uuid.New(), "", []Attachment{
		{Name: "pic.png"},
	})
	require.NoError(t, err)

	select {
	case <-nt.fired:
		require.Equal(t, []string{PlaceholderPreview}, nt.previews())
	case <-time.After(time.Second):
		t.Fatal("notifier was not fired")
	}
}

func TestEditSetsContentAndEditedFlagOnly(t *testing.T) {
	store := &fakeStore{}
	eng, _, nt := testEngine(store, newFakeFeed())
	id := uuid.New()

	m, err := eng.Edit(context.Background(), id, "bar")
	require.NoError(t, err)
	require.Equal(t, "bar", m.Content)
	require.True(t, m.IsEdited)
	require.Empty(t, nt.previews()) // edits never notify

	_, err = eng.Edit(context.Background(), id, "  ")
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestDeleteRevertsOnRemoteFailure(t *testing.T) {
	chatID := uuid.New()
	m := snapshotMsg(chatID, 0, "keep me")
	store := &fakeStore{snapshot: []model.Message{m}, deleteErr: errors.New("boom")}
	ff := newFakeFeed()
	eng, _, _ := testEngine(store, ff)
	require.NoError(t, eng.Open(chatID))

	err := eng.Delete(context.Background(), chatID, m.ID)
	require.Error(t, err)

	msgs, err := eng.Transcript(chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "keep me", msgs[0].Content)
}

func TestDeleteConfirmedWinsOverStaleSnapshot(t *testing.T) {
	chatID := uuid.New()
	m := snapshotMsg(chatID, 0, "going away")
	store := &fakeStore{snapshot: []model.Message{m}}
	ff := newFakeFeed()
	eng, _, _ := testEngine(store, ff)
	require.NoError(t, eng.Open(chatID))

	require.NoError(t, eng.Delete(context.Background(), chatID, m.ID))
	require.Equal(t, []uuid.UUID{m.ID}, store.deleted)

	msgs, err := eng.Transcript(chatID)
	require.NoError(t, err)
	require.Empty(t, msgs)

	// the DELETE change event comes around later; still gone, still idempotent
	ff.emit(chatID.String(), model.ChangeEvent{Type: model.EventDelete, Old: &m})
	msgs, _ = eng.Transcript(chatID)
	require.Empty(t, msgs)
}
