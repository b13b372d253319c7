package api

import (
	"chat-sync/internal/config"
	"chat-sync/internal/engine"
	"chat-sync/internal/session"
	"chat-sync/internal/storage"
)

type API struct {
	Engine  *engine.Engine
	Storage *storage.Storage
	Session *session.Store
	Cfg     *config.Config
}

func NewAPI(eng *engine.Engine, db *storage.Storage, sess *session.Store, cfg *config.Config) *API {
	return &API{
		Engine:  eng,
		Storage: db,
		Session: sess,
		Cfg:     cfg,
	}
}
