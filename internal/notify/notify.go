// internal/notify/notify.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/metrics"
)

// MemberLister resolves a chat's member ids; the dispatcher treats chat
// membership as an opaque lookup.
type MemberLister interface {
	ListMemberIDs(chatID uuid.UUID) ([]uuid.UUID, error)
}

// Dispatcher fires push notifications at the hosted provider. It is never
// on the critical path: every failure is logged and counted, none is
// returned to the caller.
type Dispatcher struct {
	endpoint string
	appID    string
	apiKey   string
	appURL   string
	members  MemberLister
	http     *http.Client
}

func NewDispatcher(endpoint, appID, apiKey, appURL string, members MemberLister) *Dispatcher {
	return &Dispatcher{
		endpoint: endpoint,
		appID:    appID,
		apiKey:   apiKey,
		appURL:   appURL,
		members:  members,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

type pushPayload struct {
	AppID                  string            `json:"app_id"`
	IncludeExternalUserIDs []string          `json:"include_external_user_ids"`
	Headings               map[string]string `json:"headings"`
	Contents               map[string]string `json:"contents"`
	URL                    string            `json:"url"`
}

// Notify pushes a short preview to every chat member except the sender.
// No recipients is a no-op.
func (d *Dispatcher) Notify(ctx context.Context, chatID, excludeUserID uuid.UUID, preview string) {
	members, err := d.members.ListMemberIDs(chatID)
	if err != nil {
		d.fail(chatID, fmt.Errorf("resolve members: %w", err))
		return
	}

	recipients := make([]string, 0, len(members))
	for _, id := range members {
		if id != excludeUserID {
			recipients = append(recipients, id.String())
		}
	}
	if len(recipients) == 0 {
		return
	}

	payload := pushPayload{
		AppID:                  d.appID,
		IncludeExternalUserIDs: recipients,
		Headings:               map[string]string{"en": "New message"},
		Contents:               map[string]string{"en": preview},
		URL:                    d.appURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.fail(chatID, fmt.Errorf("marshal payload: %w", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		d.fail(chatID, fmt.Errorf("create request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Basic "+d.apiKey)
	}

	res, err := d.http.Do(req)
	if err != nil {
		d.fail(chatID, err)
		return
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		d.fail(chatID, fmt.Errorf("provider returned status %d", res.StatusCode))
	}
}

func (d *Dispatcher) fail(chatID uuid.UUID, err error) {
	metrics.NotificationFailures.Inc()
	log.Printf("[Notify] Push for chat %s failed: %v", chatID, err)
}
