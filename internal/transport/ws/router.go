// Package ws is the server's transport: the HTTP API for accounts and
// rooms, and the websocket endpoint the relay lives behind.
package ws

import (
	"github.com/gin-gonic/gin"

	"github.com/termchat/termchat/internal/auth"
	"github.com/termchat/termchat/internal/config"
	"github.com/termchat/termchat/internal/relay"
	"github.com/termchat/termchat/internal/store"
)

type Server struct {
	cfg   *config.Config
	auth  *auth.Service
	store *store.Store
	hub   *relay.Hub
}

func NewServer(cfg *config.Config, authSvc *auth.Service, st *store.Store, hub *relay.Hub) *Server {
	return &Server{cfg: cfg, auth: authSvc, store: st, hub: hub}
}

func (s *Server) Router() *gin.Engine {
	if s.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if s.cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.POST("/register", s.handleRegister)
	api.POST("/login", s.handleLogin)
	api.GET("/verify-email", s.handleVerifyEmail)

	authed := api.Group("", s.requireAuth())
	authed.GET("/rooms", s.handleListRooms)
	authed.POST("/rooms", s.handleCreateRoom)
	authed.POST("/rooms/:id/join", s.handleJoinRoom)
	authed.GET("/rooms/:id/messages", s.handleHistory)

	r.GET("/ws/:room", s.handleWS)

	return r
}
