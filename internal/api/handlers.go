package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chat-sync/internal/auth"
	"chat-sync/internal/engine"
	"chat-sync/internal/metrics"
)

func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	// Public
	r.Handle("/metrics", metrics.Handler())
	r.Get("/chats/{id}/ws", a.StreamChat) // authenticates via ?token=

	// Secured
	r.Group(func(r chi.Router) {
		r.Use(auth.JWTAuthMiddleware)

		r.Post("/chats", a.CreateChat)
		r.Get("/chats", a.ListChats)
		r.Post("/chats/{id}/members", a.AddMember)
		r.Get("/chats/{id}/messages", a.ListMessages)
		r.Post("/chats/{id}/messages", a.SendMessage)
		r.Patch("/messages/{id}", a.EditMessage)
		r.Delete("/messages/{id}", a.DeleteMessage)

		r.Post("/friends", a.CreateFriendRequest)
		r.Put("/friends/{id}/accept", a.AcceptFriendRequest)
		r.Get("/friends", a.ListFriends)

		r.Get("/session/last-chat", a.LastOpenChat)
		r.Put("/session/last-chat", a.SetLastOpenChat)
	})

	return r
}

func currentUser(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(auth.GetUserID(r))
	return id, err == nil
}

// @Summary Create a chat
// @Tags Chats
// @Produce json
// @Success 200 {object} model.Chat
// @Router /chats [post]
func (a *API) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		Name     string `json:"name"`
		IsDirect bool   `json:"is_direct"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	chat, err := a.Storage.CreateChat(body.Name, body.IsDirect, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("API: Created chat %s", chat.ID)
	json.NewEncoder(w).Encode(chat)
}

// @Summary List the caller's chats
// @Tags Chats
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {array} model.Chat
// @Router /chats [get]
func (a *API) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	chats, err := a.Storage.ListChats(userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(chats)
}

// @Summary Add a member to a chat
// @Tags Chats
// @Security ApiKeyAuth
// @Param id path string true "Chat UUID"
// @Success 204
// @Router /chats/{id}/members [post]
func (a *API) AddMember(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !a.requireMember(w, chatID, userID) {
		return
	}

	var body struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == uuid.Nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	if err := a.Storage.AddMember(chatID, body.UserID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Read a chat's transcript
// @Tags Messages
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Chat UUID"
// @Success 200 {array} model.Message
// @Router /chats/{id}/messages [get]
func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !a.requireMember(w, chatID, userID) {
		return
	}

	// serve the live transcript when the chat is open, else hit the store
	msgs, err := a.Engine.Transcript(chatID)
	if errors.Is(err, engine.ErrNotOpen) {
		msgs, err = a.Storage.ListMessages(chatID)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(msgs)
}

// @Summary Send a message with optional attachments
// @Tags Messages
// @Security ApiKeyAuth
// @Accept mpfd
// @Produce json
// @Param id path string true "Chat UUID"
// @Success 201 {object} map[string]interface{}
// @Router /chats/{id}/messages [post]
func (a *API) SendMessage(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !a.requireMember(w, chatID, userID) {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "bad multipart body", http.StatusBadRequest)
		return
	}
	content := r.FormValue("content")

	var attachments []engine.Attachment
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["images"] {
			f, err := fh.Open()
			if err != nil {
				http.Error(w, "bad attachment", http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				http.Error(w, "bad attachment", http.StatusBadRequest)
				return
			}
			attachments = append(attachments, engine.Attachment{Name: fh.Filename, Data: data})
		}
	}

	result, err := a.Engine.Send(r.Context(), chatID, userID, content, attachments)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptyMessage):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, engine.ErrSendInFlight):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, engine.ErrUploadFailed):
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  result.Message,
		"uploaded": result.Uploaded,
		"failed":   result.Failed,
	})
}

// @Summary Edit a message
// @Tags Messages
// @Security ApiKeyAuth
// @Param id path string true "Message UUID"
// @Produce json
// @Success 200 {object} model.Message
// @Router /messages/{id} [patch]
func (a *API) EditMessage(w http.ResponseWriter, r *http.Request) {
	messageID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	existing, err := a.Storage.GetMessage(messageID)
	if err != nil {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	if existing.SenderID != userID {
		http.Error(w, "not your message", http.StatusForbidden)
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	updated, err := a.Engine.Edit(r.Context(), messageID, body.Content)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyMessage) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(updated)
}

// @Summary Delete a message
// @Tags Messages
// @Security ApiKeyAuth
// @Param id path string true "Message UUID"
// @Success 204
// @Router /messages/{id} [delete]
func (a *API) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	existing, err := a.Storage.GetMessage(messageID)
	if err != nil {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	if existing.SenderID != userID {
		http.Error(w, "not your message", http.StatusForbidden)
		return
	}

	if err := a.Engine.Delete(r.Context(), existing.ChatID, messageID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Send a friend request
// @Tags Friends
// @Security ApiKeyAuth
// @Success 204
// @Router /friends [post]
func (a *API) CreateFriendRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		FriendID uuid.UUID `json:"friend_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FriendID == uuid.Nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if body.FriendID == userID {
		http.Error(w, "cannot befriend yourself", http.StatusBadRequest)
		return
	}

	if err := a.Storage.CreateFriendRequest(userID, body.FriendID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Accept a pending friend request
// @Tags Friends
// @Security ApiKeyAuth
// @Param id path string true "Requester UUID"
// @Success 204
// @Router /friends/{id}/accept [put]
func (a *API) AcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	requesterID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := a.Storage.AcceptFriendRequest(userID, requesterID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary List friends and pending requests
// @Tags Friends
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {array} model.Friend
// @Router /friends [get]
func (a *API) ListFriends(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	friends, err := a.Storage.ListFriends(userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(friends)
}

// @Summary Read the last open conversation
// @Tags Session
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /session/last-chat [get]
func (a *API) LastOpenChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	chatID, err := a.Session.LastOpenChat(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := map[string]string{"chat_id": ""}
	if chatID != uuid.Nil {
		resp["chat_id"] = chatID.String()
	}
	json.NewEncoder(w).Encode(resp)
}

// @Summary Record the last open conversation
// @Tags Session
// @Security ApiKeyAuth
// @Success 204
// @Router /session/last-chat [put]
func (a *API) SetLastOpenChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		ChatID uuid.UUID `json:"chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChatID == uuid.Nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	if err := a.Session.SetLastOpenChat(r.Context(), userID, body.ChatID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) requireMember(w http.ResponseWriter, chatID, userID uuid.UUID) bool {
	member, err := a.Storage.IsMember(chatID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return false
	}
	if !member {
		http.Error(w, "not a chat member", http.StatusForbidden)
		return false
	}
	return true
}
