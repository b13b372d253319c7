// internal/engine/send.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"chat-sync/internal/metrics"
	"chat-sync/internal/model"
)

var (
	// ErrEmptyMessage rejects a send with neither text nor attachments
	ErrEmptyMessage = errors.New("message needs text or at least one attachment")
	// ErrSendInFlight rejects a second send while one is still running
	ErrSendInFlight = errors.New("a send is already in flight for this chat")
	// ErrUploadFailed means no attachment could be stored and there was no
	// text to fall back on, so nothing was persisted
	ErrUploadFailed = errors.New("all attachment uploads failed")
	// ErrUploadTimeout marks an upload cancelled by its deadline
	ErrUploadTimeout = errors.New("attachment upload timed out")
	// ErrPersistFailed means the message row write failed; the attempt is
	// aborted and may be retried
	ErrPersistFailed = errors.New("failed to persist message")
)

// PlaceholderPreview replaces the notification preview for attachment-only
// messages, so storage URLs never leak into push payloads.
const PlaceholderPreview = "📷 Image"

// Attachment is one outgoing binary blob
type Attachment struct {
	Name string
	Data []byte
}

// SendResult reports what was actually stored. Failed > 0 with a nil error
// is a partial failure: the message exists with fewer attachments than
// requested.
type SendResult struct {
	Message  *model.Message
	Uploaded int
	Failed   int
}

// Send uploads the attachments, persists one message row embedding the
// resolved URLs, and fires the notifier. Uploads run concurrently under a
// bounded fan-out; an individual failure is logged and skipped, never
// aborting the send. At most one send per chat is in flight at a time.
func (e *Engine) Send(ctx context.Context, chatID, senderID uuid.UUID, text string, attachments []Attachment) (*SendResult, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	if !e.acquireSend(chatID) {
		return nil, ErrSendInFlight
	}
	defer e.releaseSend(chatID)

	urls, failed := e.uploadAll(ctx, chatID, attachments)
	if strings.TrimSpace(text) == "" && len(urls) == 0 {
		return nil, ErrUploadFailed
	}

	m := &model.Message{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  text,
		Images:   urls,
	}
	if err := e.store.InsertMessage(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	metrics.MessagesSent.WithLabelValues(chatID.String()).Inc()

	preview := text
	if strings.TrimSpace(preview) == "" {
		preview = PlaceholderPreview
	}
	// fire and forget; the dispatcher swallows its own failures
	go e.notifier.Notify(context.Background(), chatID, senderID, preview)

	return &SendResult{Message: m, Uploaded: len(urls), Failed: failed}, nil
}

// Sending reports whether a send is in flight for the chat, so a UI can
// disable its submit control.
func (e *Engine) Sending(chatID uuid.UUID) bool {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return e.inFlight[chatID]
}

// Edit replaces a message's content and marks it edited. Attachments and
// created_at are untouched and no notification is sent.
func (e *Engine) Edit(ctx context.Context, messageID uuid.UUID, newText string) (*model.Message, error) {
	if strings.TrimSpace(newText) == "" {
		return nil, ErrEmptyMessage
	}
	m, err := e.store.UpdateMessageContent(messageID, newText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return m, nil
}

// Delete removes a message in two phases: the row is tentatively dropped
// from the local transcript, then deleted remotely. A failed remote delete
// restores the row and returns the error.
func (e *Engine) Delete(ctx context.Context, chatID, messageID uuid.UUID) error {
	e.mu.RLock()
	sess := e.sessions[chatID]
	e.mu.RUnlock()

	if sess != nil {
		sess.transcript.MarkDeleting(messageID)
	}

	if _, err := e.store.DeleteMessage(messageID); err != nil {
		if sess != nil {
			sess.transcript.RevertDelete(messageID)
		}
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}

	if sess != nil {
		sess.transcript.ConfirmDelete(messageID)
	}
	return nil
}

// uploadAll fans the uploads out over a bounded worker set. URLs come back
// in completion order; failures are counted, logged and skipped.
func (e *Engine) uploadAll(ctx context.Context, chatID uuid.UUID, attachments []Attachment) ([]string, int) {
	if len(attachments) == 0 {
		return nil, 0
	}

	var (
		mu     sync.Mutex
		urls   []string
		failed int
	)
	sem := make(chan struct{}, e.opts.UploadWorkers)
	var wg sync.WaitGroup

	for _, att := range attachments {
		wg.Add(1)
		sem <- struct{}{}
		go func(att Attachment) {
			defer wg.Done()
			defer func() { <-sem }()

			uctx, cancel := context.WithTimeout(ctx, e.opts.UploadTimeout)
			defer cancel()

			url, err := e.uploader.Upload(uctx, att.Name, att.Data)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("%w: %s", ErrUploadTimeout, att.Name)
				}
				log.Printf("[Send] Upload of %q for chat %s failed: %v", att.Name, chatID, err)
				metrics.UploadFailures.WithLabelValues(chatID.String()).Inc()
				failed++
				return
			}
			urls = append(urls, url)
		}(att)
	}
	wg.Wait()

	return urls, failed
}

func (e *Engine) acquireSend(chatID uuid.UUID) bool {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if e.inFlight[chatID] {
		return false
	}
	e.inFlight[chatID] = true
	return true
}

func (e *Engine) releaseSend(chatID uuid.UUID) {
	e.sendMu.Lock()
	delete(e.inFlight, chatID)
	e.sendMu.Unlock()
}
