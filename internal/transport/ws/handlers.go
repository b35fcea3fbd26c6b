package ws

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/termchat/termchat/internal/auth"
	"github.com/termchat/termchat/internal/domain"
	"github.com/termchat/termchat/internal/store"
)

const identityKey = "identity"

// requireAuth resolves the Authorization bearer header into an Identity
// for the REST surface. The websocket path does its own check at
// upgrade time.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
		ident, err := s.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authentication credentials"})
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

func identityFrom(c *gin.Context) domain.Identity {
	return c.MustGet(identityKey).(domain.Identity)
}

func (s *Server) handleRegister(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request body"})
		return
	}
	_, err := s.auth.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username or email already registered"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "registered, check the server log for your verification link"})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request body"})
		return
	}
	token, err := s.auth.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrNotVerified) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "please verify your email before logging in"})
		return
	}
	if errors.Is(err, auth.ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect username or password"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleVerifyEmail(c *gin.Context) {
	if err := s.auth.VerifyEmail(c.Request.Context(), c.Query("token")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verification token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email verified successfully"})
}

func (s *Server) handleListRooms(c *gin.Context) {
	rooms, err := s.store.Rooms(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "transport.ws").Msg("list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	if rooms == nil {
		rooms = []domain.Room{}
	}
	c.JSON(http.StatusOK, rooms)
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
		Private     bool   `json:"is_private"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request body"})
		return
	}
	room := domain.Room{
		ID:          domain.RoomID(uuid.NewString()),
		Name:        req.Name,
		Description: req.Description,
		Private:     req.Private,
	}
	err := s.store.CreateRoom(c.Request.Context(), room, identityFrom(c).ID)
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room name already taken"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "transport.ws").Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (s *Server) handleJoinRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := domain.RoomID(c.Param("id"))

	exists, err := s.store.RoomExists(ctx, roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err := s.store.JoinRoom(ctx, identityFrom(c).ID, roomID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "successfully joined room"})
}

func (s *Server) handleHistory(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := domain.RoomID(c.Param("id"))
	ident := identityFrom(c)

	member, err := s.store.IsMember(ctx, ident.ID, roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := s.store.Messages(ctx, roomID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}

	type historyEntry struct {
		ID        string `json:"id"`
		Content   string `json:"content"`
		Username  string `json:"username"`
		Timestamp string `json:"timestamp"`
	}
	out := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyEntry{
			ID:        m.ID,
			Content:   m.Content,
			Username:  m.Username,
			Timestamp: m.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, out)
}
