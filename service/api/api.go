package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"PPRelay/logger"
	"PPRelay/middleware"
	midsec "PPRelay/middleware/security"
	"PPRelay/service/chat"
	"PPRelay/service/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultPageLimit = 50

// Handler 对外的只读 HTTP 接口
type Handler struct {
	store    storage.Store
	presence *chat.PresenceRegistry
	maxLimit int
	timeout  time.Duration
	health   string
}

type Options struct {
	MaxLimit int
	Timeout  time.Duration
	// Health 是 GET / 返回的文本
	Health string
}

func New(store storage.Store, presence *chat.PresenceRegistry, opts Options) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Health == "" {
		opts.Health = "PPRelay is running"
	}
	return &Handler{store: store, presence: presence, maxLimit: opts.MaxLimit, timeout: opts.Timeout, health: opts.Health}
}

// Mount 注册路由；auth 非空时 /api/* 需要 Bearer token
func (h *Handler) Mount(r gin.IRouter, auth *midsec.Options) {
	opt := middleware.RouteOpt{IsAuth: auth != nil, Auth: auth}
	middleware.GET(r, "/", h.Health, middleware.RouteOpt{})
	g := r.Group("/api")
	middleware.GET(g, "/users", h.Users, opt)
	middleware.GET(g, "/messages/:user1/:user2", h.Messages, opt)
	middleware.GET(g, "/conversations/:user", h.Conversations, opt)
}

func (h *Handler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, h.health)
}

// Users 全部账号，online 取自内存中的在线表；失败返回空数组
func (h *Handler) Users(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	accounts, err := h.store.ListAccounts(ctx)
	if err != nil {
		logger.Error("[API] list accounts failed", zap.Error(err))
		c.JSON(http.StatusOK, []chat.User{})
		return
	}
	users := make([]chat.User, len(accounts))
	for i, a := range accounts {
		users[i] = chat.UserFromAccount(a, h.presence.IsOnline(a.ID))
	}
	c.JSON(http.StatusOK, users)
}

// Messages 两人之间的一页消息（时间倒序，附带 reactions）
func (h *Handler) Messages(c *gin.Context) {
	user1, user2 := c.Param("user1"), c.Param("user2")
	limit, offset := h.page(c)

	ctx, cancel := h.ctx(c)
	defer cancel()

	page, err := h.store.MessagesBetween(ctx, user1, user2, limit, offset)
	if err != nil {
		logger.Error("[API] get messages failed", zap.String("user1", user1), zap.String("user2", user2), zap.Error(err))
		c.JSON(http.StatusOK, []chat.ChatMessage{})
		return
	}
	c.JSON(http.StatusOK, h.withReactions(ctx, page))
}

type ConversationSummary struct {
	UserID      string           `json:"user_id"`
	LastMessage chat.ChatMessage `json:"last_message"`
	UnreadCount int              `json:"unread_count"`
}

// Conversations 每个对端的最新一条消息及未读数
func (h *Handler) Conversations(c *gin.Context) {
	user := c.Param("user")
	ctx, cancel := h.ctx(c)
	defer cancel()

	latest, err := h.store.Conversations(ctx, user)
	if err != nil {
		logger.Error("[API] conversations failed", zap.String("user", user), zap.Error(err))
		c.JSON(http.StatusOK, []ConversationSummary{})
		return
	}
	msgs := h.withReactions(ctx, latest)
	out := make([]ConversationSummary, len(latest))
	for i, m := range latest {
		peer := m.Counterpart(user)
		unread, err := h.store.UnreadCount(ctx, user, peer)
		if err != nil {
			logger.Warn("[API] unread count failed", zap.String("user", user), zap.String("peer", peer), zap.Error(err))
		}
		out[i] = ConversationSummary{UserID: peer, LastMessage: msgs[i], UnreadCount: unread}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) withReactions(ctx context.Context, page []*storage.Message) []chat.ChatMessage {
	ids := make([]string, len(page))
	for i, m := range page {
		ids[i] = m.ID
	}
	reactions, err := h.store.ReactionsBatch(ctx, ids)
	if err != nil {
		logger.Warn("[API] reactions batch failed", zap.Error(err))
	}
	out := make([]chat.ChatMessage, len(page))
	for i, m := range page {
		out[i] = chat.MessageFromStore(m, reactions[m.ID])
	}
	return out
}

func (h *Handler) page(c *gin.Context) (int, int) {
	limit := queryInt(c, "limit", defaultPageLimit)
	offset := queryInt(c, "offset", 0)
	if limit < 1 {
		limit = 1
	}
	if h.maxLimit > 0 && limit > h.maxLimit {
		limit = h.maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryInt(c *gin.Context, key string, def int) int {
	v, ok := c.GetQuery(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
