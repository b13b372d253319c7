// internal/api/ws.go
package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-sync/internal/auth"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled at HTTP level; allow WS here
		return true
	},
}

// StreamChat upgrades to a websocket and relays the chat's change events.
// Browsers cannot set headers on WS, so the JWT arrives as ?token=.
// Attaching opens the conversation; when the socket goes away the watcher
// detaches and an idle conversation is closed, so switching chats always
// releases the previous subscription.
func (a *API) StreamChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	tokenStr := strings.TrimSpace(r.URL.Query().Get("token"))
	claims, err := auth.ValidateToken(tokenStr)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !a.requireMember(w, chatID, userID) {
		return
	}

	if err := a.Engine.Open(chatID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	events, cancel, err := a.Engine.Watch(chatID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		a.Engine.CloseIfIdle(chatID)
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	defer func() {
		conn.Close()
		cancel()
		a.Engine.CloseIfIdle(chatID)
	}()

	if err := a.Session.SetLastOpenChat(r.Context(), userID, chatID); err != nil {
		log.Printf("[ws] failed to record last open chat: %v", err)
	}

	// send the current transcript first so the client never renders empty
	if msgs, err := a.Engine.Transcript(chatID); err == nil {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(map[string]interface{}{"type": "snapshot", "messages": msgs}); err != nil {
			return
		}
	}

	// drain the read side to notice disconnects
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-disconnected:
			return
		}
	}
}
