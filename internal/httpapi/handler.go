// Package httpapi exposes the synchronous request/response operations:
// session creation, matchmaking, message submit, history, and live pool
// management. Handlers translate the core's error taxonomy to HTTP statuses
// in one place; no state is mutated on validation failures.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/linkup/social-core/internal/auth"
	"github.com/linkup/social-core/internal/chat"
	"github.com/linkup/social-core/internal/interests"
	"github.com/linkup/social-core/internal/livepool"
	"github.com/linkup/social-core/internal/match"
	"github.com/linkup/social-core/internal/presence"
	"github.com/linkup/social-core/internal/ratelimit"
)

// SessionStore is the slice of the chat store the API uses.
type SessionStore interface {
	CreatePersonal(ctx context.Context, userA, userB string) (*chat.Session, error)
	CreateGroup(ctx context.Context, creatorID string, memberIDs []string, name string, tags []string) (*chat.Session, error)
	Append(ctx context.Context, sessionID string, msg chat.NewMessage) (*chat.Message, error)
	History(ctx context.Context, sessionID string, page, pageSize int) (*chat.Session, []chat.Message, error)
	Get(ctx context.Context, sessionID string) (*chat.Session, error)
}

// Matcher forms random sessions from the live pool.
type Matcher interface {
	MatchPair(ctx context.Context, userID string, tags []string) (*chat.Session, error)
	MatchGroup(ctx context.Context, userID string, tags []string) (*chat.Session, error)
}

// Deliverer fans stored messages out to connected participants.
type Deliverer interface {
	Deliver(session *chat.Session, msg *chat.Message) []string
}

// Handler carries the API's collaborators.
type Handler struct {
	store    SessionStore
	pool     *livepool.Pool
	matcher  Matcher
	relay    Deliverer
	registry *presence.Registry
	verifier auth.Verifier
	limiter  *ratelimit.Limiter // optional
}

// NewHandler creates a Handler. limiter may be nil to disable throttling.
func NewHandler(store SessionStore, pool *livepool.Pool, matcher Matcher, relay Deliverer, registry *presence.Registry, verifier auth.Verifier, limiter *ratelimit.Limiter) *Handler {
	return &Handler{
		store:    store,
		pool:     pool,
		matcher:  matcher,
		relay:    relay,
		registry: registry,
		verifier: verifier,
		limiter:  limiter,
	}
}

// Register mounts all API routes on r behind bearer authentication.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api", h.authRequired)

	api.GET("/interests", h.listInterests)

	api.POST("/chats/personal", h.createPersonalChat)
	api.POST("/chats/group", h.createGroupChat)
	api.POST("/chats/:id/messages", h.sendMessage)
	api.GET("/chats/:id/messages", h.getHistory)

	api.POST("/match/pair", h.matchPair)
	api.POST("/match/group", h.matchGroup)

	api.POST("/pool/join", h.joinPool)
	api.POST("/pool/leave", h.leavePool)
	api.GET("/pool", h.listPool)

	api.GET("/connections", h.listConnections)
}

// authRequired verifies the bearer credential on every API request.
func (h *Handler) authRequired(c *gin.Context) {
	header := c.GetHeader("Authorization")
	credential := strings.TrimPrefix(header, "Bearer ")
	if credential == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credential"})
		return
	}

	userID, err := h.verifier.Verify(credential)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired credential"})
		return
	}
	c.Set("userID", userID)
	c.Next()
}

func (h *Handler) listInterests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": interests.All()})
}

type createPersonalReq struct {
	UserID      string `json:"user_id"`
	RecipientID string `json:"recipient_id"`
}

func (h *Handler) createPersonalChat(c *gin.Context) {
	var req createPersonalReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	session, err := h.store.CreatePersonal(c.Request.Context(), req.UserID, req.RecipientID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

type createGroupReq struct {
	CreatorID string   `json:"creator_id"`
	MemberIDs []string `json:"member_ids"`
	GroupName string   `json:"group_name"`
	Interests []string `json:"interests"`
}

func (h *Handler) createGroupChat(c *gin.Context) {
	var req createGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	session, err := h.store.CreateGroup(c.Request.Context(), req.CreatorID, req.MemberIDs, req.GroupName, req.Interests)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

type sendMessageReq struct {
	Sender   string `json:"sender"`
	Body     string `json:"body"`
	MediaRef string `json:"media_ref"`
	Kind     string `json:"kind"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if h.limiter != nil {
		if ok, _ := h.limiter.Allow(c.Request.Context(), req.Sender, ratelimit.RuleMessage); !ok {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
	}

	sessionID := c.Param("id")
	msg, err := h.store.Append(c.Request.Context(), sessionID, chat.NewMessage{
		Sender:   req.Sender,
		Body:     req.Body,
		MediaRef: req.MediaRef,
		Kind:     chat.Kind(req.Kind),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	session, err := h.store.Get(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	notified := h.relay.Deliver(session, msg)

	c.JSON(http.StatusOK, gin.H{"message": msg, "notified": notified})
}

func (h *Handler) getHistory(c *gin.Context) {
	sessionID := c.Param("id")
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 50)

	session, messages, err := h.store.History(c.Request.Context(), sessionID, page, pageSize)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := gin.H{
		"session_id":   session.ID,
		"participants": session.Participants,
		"is_group":     session.IsGroup,
		"created_at":   session.CreatedAt,
		"messages":     messages,
		"page":         page,
	}
	if session.IsGroup {
		resp["group_name"] = session.GroupName
	}
	c.JSON(http.StatusOK, resp)
}

type matchReq struct {
	UserID    string   `json:"user_id"`
	Interests []string `json:"interests"`
}

func (h *Handler) matchPair(c *gin.Context) {
	h.handleMatch(c, h.matcher.MatchPair)
}

func (h *Handler) matchGroup(c *gin.Context) {
	h.handleMatch(c, h.matcher.MatchGroup)
}

func (h *Handler) handleMatch(c *gin.Context, form func(ctx context.Context, userID string, tags []string) (*chat.Session, error)) {
	var req matchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if h.limiter != nil {
		if ok, _ := h.limiter.Allow(c.Request.Context(), req.UserID, ratelimit.RuleMatch); !ok {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
	}

	session, err := form(c.Request.Context(), req.UserID, req.Interests)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

type poolJoinReq struct {
	UserID    string   `json:"user_id"`
	Interests []string `json:"interests"`
}

func (h *Handler) joinPool(c *gin.Context) {
	var req poolJoinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if err := h.pool.Join(req.UserID, req.Interests); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": true})
}

type poolLeaveReq struct {
	UserID string `json:"user_id"`
}

func (h *Handler) leavePool(c *gin.Context) {
	var req poolLeaveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	h.pool.Leave(req.UserID)
	c.JSON(http.StatusOK, gin.H{"left": true})
}

func (h *Handler) listPool(c *gin.Context) {
	members := h.pool.Members()
	c.JSON(http.StatusOK, gin.H{"members": members, "count": len(members)})
}

func (h *Handler) listConnections(c *gin.Context) {
	conns := h.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{"connections": conns, "count": len(conns)})
}

// respondError maps the core error taxonomy onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, match.ErrNoMatch):
		c.JSON(http.StatusNotFound, gin.H{"error": "No match found. Try again later."})
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat session not found"})
	case chat.IsValidation(err),
		errors.Is(err, livepool.ErrNoInterests),
		errors.Is(err, livepool.ErrTooManyInterests),
		errors.Is(err, livepool.ErrUnknownInterest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredential):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired credential"})
	default:
		log.Printf("[api] internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
	}
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
