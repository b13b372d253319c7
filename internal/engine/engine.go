// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/feed"
	"chat-sync/internal/metrics"
	"chat-sync/internal/model"
	"chat-sync/internal/transcript"
)

// Store is the slice of the remote relational store the engine needs
type Store interface {
	ListMessages(chatID uuid.UUID) ([]model.Message, error)
	InsertMessage(m *model.Message) error
	UpdateMessageContent(id uuid.UUID, content string) (*model.Message, error)
	DeleteMessage(id uuid.UUID) (*model.Message, error)
}

// Subscription is one live change feed binding
type Subscription interface {
	Done() <-chan struct{}
	Stopped() bool
	Stop()
}

// Feed hands out change feed subscriptions
type Feed interface {
	Subscribe(chatID string, handler func(chatID string, ev model.ChangeEvent)) (Subscription, error)
}

// Uploader persists one attachment blob and returns its public URL
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// Notifier is the fire-and-forget push dispatcher; it never reports errors
// back, by contract.
type Notifier interface {
	Notify(ctx context.Context, chatID, excludeUserID uuid.UUID, preview string)
}

type Options struct {
	UploadTimeout time.Duration
	UploadWorkers int
}

// Engine keeps one synchronized transcript per open conversation and runs
// the send pipeline against the remote store.
type Engine struct {
	store    Store
	feed     Feed
	uploader Uploader
	notifier Notifier
	opts     Options

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session

	sendMu   sync.Mutex
	inFlight map[uuid.UUID]bool
}

type session struct {
	chatID     uuid.UUID
	transcript *transcript.Store
	sub        Subscription
	closed     chan struct{}

	mu           sync.Mutex
	snapshotDone bool
	backlog      []model.ChangeEvent
	watchers     map[int]chan model.ChangeEvent
	nextWatcher  int
}

func New(store Store, f Feed, uploader Uploader, notifier Notifier, opts Options) *Engine {
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 30 * time.Second
	}
	if opts.UploadWorkers <= 0 {
		opts.UploadWorkers = 4
	}
	return &Engine{
		store:    store,
		feed:     f,
		uploader: uploader,
		notifier: notifier,
		opts:     opts,
		sessions: make(map[uuid.UUID]*session),
		inFlight: make(map[uuid.UUID]bool),
	}
}

// Open subscribes to the chat's change feed and loads the initial snapshot.
// Deltas arriving before the snapshot is in place are buffered and replayed
// after it, so the transcript is never rendered empty while events trickle in.
// Opening an already open chat is a no-op.
func (e *Engine) Open(chatID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.sessions[chatID]; exists {
		return nil
	}

	sess := &session{
		chatID:     chatID,
		transcript: transcript.New(),
		closed:     make(chan struct{}),
		watchers:   make(map[int]chan model.ChangeEvent),
	}

	sub, err := e.feed.Subscribe(chatID.String(), func(_ string, ev model.ChangeEvent) {
		e.handleEvent(sess, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe chat %s: %w", chatID, err)
	}
	sess.sub = sub

	snapshot, err := e.store.ListMessages(chatID)
	if err != nil {
		sub.Stop()
		return fmt.Errorf("snapshot chat %s: %w", chatID, err)
	}
	sess.seed(snapshot)

	e.sessions[chatID] = sess
	go e.superviseFeed(sess)

	log.Printf("[Engine] Opened chat %s (%d messages)", chatID, sess.transcript.Len())
	return nil
}

// Close releases the chat's subscription. Late events for this chat can no
// longer reach any transcript, and attached watchers are detached.
func (e *Engine) Close(chatID uuid.UUID) {
	e.mu.Lock()
	sess, exists := e.sessions[chatID]
	if exists {
		delete(e.sessions, chatID)
	}
	e.mu.Unlock()
	if !exists {
		return
	}

	close(sess.closed)
	sess.currentSub().Stop()
	sess.dropWatchers()
	log.Printf("[Engine] Closed chat %s", chatID)
}

// CloseIfIdle closes the chat when no watchers remain attached, so a
// conversation switch at the UI tears the old subscription down.
func (e *Engine) CloseIfIdle(chatID uuid.UUID) {
	e.mu.RLock()
	sess, ok := e.sessions[chatID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	idle := len(sess.watchers) == 0
	sess.mu.Unlock()
	if idle {
		e.Close(chatID)
	}
}

// ShutdownAll closes every open conversation
func (e *Engine) ShutdownAll() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[uuid.UUID]*session)
	e.mu.Unlock()

	for id, sess := range sessions {
		close(sess.closed)
		sess.currentSub().Stop()
		sess.dropWatchers()
		log.Printf("[Engine] Closed chat %s", id)
	}
}

// ErrNotOpen is returned for transcript reads on chats with no live session
var ErrNotOpen = fmt.Errorf("chat is not open")

// Transcript returns the current ordered transcript of an open chat
func (e *Engine) Transcript(chatID uuid.UUID) ([]model.Message, error) {
	e.mu.RLock()
	sess, ok := e.sessions[chatID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrNotOpen
	}
	return sess.transcript.Messages(), nil
}

// Watch attaches a change event stream for an open chat. The returned cancel
// func detaches it; when the last watcher detaches the session stays open
// until Close or ShutdownAll.
func (e *Engine) Watch(chatID uuid.UUID) (<-chan model.ChangeEvent, func(), error) {
	e.mu.RLock()
	sess, ok := e.sessions[chatID]
	e.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotOpen
	}

	sess.mu.Lock()
	id := sess.nextWatcher
	sess.nextWatcher++
	ch := make(chan model.ChangeEvent, 64)
	sess.watchers[id] = ch
	sess.mu.Unlock()

	cancel := func() {
		sess.mu.Lock()
		if c, ok := sess.watchers[id]; ok {
			delete(sess.watchers, id)
			close(c)
		}
		sess.mu.Unlock()
	}
	return ch, cancel, nil
}

// handleEvent folds one feed delivery into the session. Before the snapshot
// is seeded the event is buffered; idempotent delta rules make the later
// replay safe even when the snapshot already contains the row.
func (e *Engine) handleEvent(sess *session, ev model.ChangeEvent) {
	sess.mu.Lock()
	if !sess.snapshotDone {
		sess.backlog = append(sess.backlog, ev)
		sess.mu.Unlock()
		return
	}
	sess.mu.Unlock()

	sess.apply(ev)
}

// superviseFeed re-establishes a dropped subscription. A deliberate Stop is
// final; anything else is a broken feed that must not silently go stale.
func (e *Engine) superviseFeed(sess *session) {
	for {
		sub := sess.currentSub()
		select {
		case <-sess.closed:
			return
		case <-sub.Done():
		}
		if sub.Stopped() {
			return
		}

		log.Printf("[Engine] Feed for chat %s dropped, resubscribing", sess.chatID)
		for attempt := 1; ; attempt++ {
			select {
			case <-sess.closed:
				return
			case <-time.After(time.Duration(attempt) * time.Second):
			}

			// buffer deltas from the new subscription until the refreshed
			// snapshot is applied, exactly like the initial open; applying
			// them directly would let a slower snapshot fetch wipe a newer
			// event
			sess.beginRefresh()
			sub, err := e.feed.Subscribe(sess.chatID.String(), func(_ string, ev model.ChangeEvent) {
				e.handleEvent(sess, ev)
			})
			if err != nil {
				log.Printf("[Engine] Resubscribe chat %s failed (attempt %d): %v", sess.chatID, attempt, err)
				continue
			}
			if !sess.install(sub) {
				// the session was closed while the subscribe was in flight
				sub.Stop()
				return
			}

			// refresh the snapshot to cover the outage window
			if snapshot, err := e.store.ListMessages(sess.chatID); err != nil {
				log.Printf("[Engine] Snapshot refresh for chat %s failed: %v", sess.chatID, err)
				sess.flushBacklog()
			} else {
				sess.seed(snapshot)
			}
			log.Printf("[Engine] Feed for chat %s re-established", sess.chatID)
			break
		}
	}
}

func (sess *session) currentSub() Subscription {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.sub
}

// beginRefresh puts the session back into buffering mode, so deltas from a
// fresh subscription wait for the refreshed snapshot.
func (sess *session) beginRefresh() {
	sess.mu.Lock()
	sess.snapshotDone = false
	sess.mu.Unlock()
}

// install swaps in a new subscription unless the session was closed in the
// meantime; a racing Close always wins.
func (sess *session) install(sub Subscription) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	select {
	case <-sess.closed:
		return false
	default:
	}
	sess.sub = sub
	return true
}

func (sess *session) seed(snapshot []model.Message) {
	sess.transcript.ApplySnapshot(snapshot)
	sess.flushBacklog()
}

// flushBacklog replays buffered deltas and resumes direct application. The
// idempotent delta rules make the replay safe even when the snapshot already
// contains the rows.
func (sess *session) flushBacklog() {
	sess.mu.Lock()
	backlog := sess.backlog
	sess.backlog = nil
	sess.snapshotDone = true
	sess.mu.Unlock()

	for _, ev := range backlog {
		sess.apply(ev)
	}
}

func (sess *session) apply(ev model.ChangeEvent) {
	if sess.transcript.ApplyDelta(ev) {
		metrics.DeltasApplied.WithLabelValues(sess.chatID.String(), ev.Type).Inc()
	}
	sess.notifyWatchers(ev)
}

func (sess *session) notifyWatchers(ev model.ChangeEvent) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for id, ch := range sess.watchers {
		select {
		case ch <- ev:
		default:
			log.Printf("[Engine] Watcher %d on chat %s is not draining, dropping event", id, sess.chatID)
		}
	}
}

func (sess *session) dropWatchers() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for id, ch := range sess.watchers {
		delete(sess.watchers, id)
		close(ch)
	}
}

// NewAMQPFeed adapts the rabbit-backed feed client to the Feed interface
func NewAMQPFeed(c *feed.FeedClient) Feed {
	return amqpFeed{c}
}

type amqpFeed struct {
	c *feed.FeedClient
}

func (a amqpFeed) Subscribe(chatID string, handler func(string, model.ChangeEvent)) (Subscription, error) {
	return a.c.Subscribe(chatID, handler)
}
