package handlers

import (
	"context"
	"strings"

	"PPRelay/logger"
	"PPRelay/service/chat"
	"PPRelay/service/storage"
	"PPRelay/tools/ids"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func registerSuccess(u chat.User, token string) chat.ServerEvent {
	return chat.NewRegisterSuccess(u, token)
}

func loginSuccess(u chat.User, token string) chat.ServerEvent {
	return chat.NewLoginSuccess(u, token)
}

type RegisterHandler struct{ ctx *chat.Context }

func NewRegisterHandler(ctx *chat.Context) chat.Handler { return &RegisterHandler{ctx: ctx} }
func (h *RegisterHandler) Type() string                 { return chat.TypeRegister }
func (h *RegisterHandler) RequiresAuth() bool           { return false }

func (h *RegisterHandler) Handle(ctx context.Context, c *chat.Client, e chat.ClientEvent) error {
	ev := e.(*chat.RegisterEvent)
	s := h.ctx.S
	if c.Authenticated() {
		s.Fanout().Reply(c, chat.NewAuthError("Already authenticated"))
		return nil
	}
	if strings.TrimSpace(ev.Username) == "" {
		s.Fanout().Reply(c, chat.NewAuthError("Username is required"))
		return nil
	}

	sctx, cancel := s.StoreContext(ctx)
	defer cancel()

	_, err := s.Store().AccountByUsername(sctx, ev.Username)
	switch {
	case err == nil:
		s.Fanout().Reply(c, chat.NewAuthError("Username already exists"))
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		s.StoreFailed("account_by_username", err, zap.String("username", ev.Username))
		s.Fanout().Reply(c, chat.NewAuthError("Database error"))
		return nil
	}

	hash, err := s.Hasher().Hash(ev.Password)
	if err != nil {
		logger.Error("[Auth] hash password failed", zap.Error(err))
		s.Fanout().Reply(c, chat.NewAuthError("Failed to register user"))
		return nil
	}
	acc, err := s.Store().CreateAccount(sctx, ids.NewUUID(), ev.Username, hash)
	if errors.Is(err, storage.ErrDuplicateUsername) {
		// 并发注册同名
		s.Fanout().Reply(c, chat.NewAuthError("Username already exists"))
		return nil
	}
	if err != nil {
		s.StoreFailed("create_account", err, zap.String("username", ev.Username))
		s.Fanout().Reply(c, chat.NewAuthError("Failed to register user"))
		return nil
	}

	if s.Authenticate(ctx, c, acc, registerSuccess) {
		logger.Info("[Auth] user registered", zap.String("username", acc.Username), zap.String("user_id", acc.ID))
	}
	return nil
}

type LoginHandler struct{ ctx *chat.Context }

func NewLoginHandler(ctx *chat.Context) chat.Handler { return &LoginHandler{ctx: ctx} }
func (h *LoginHandler) Type() string                 { return chat.TypeLogin }
func (h *LoginHandler) RequiresAuth() bool           { return false }

// Handle 未带密码且账号不存在时自动建号（兼容旧客户端的免密登录）
func (h *LoginHandler) Handle(ctx context.Context, c *chat.Client, e chat.ClientEvent) error {
	ev := e.(*chat.LoginEvent)
	s := h.ctx.S
	if c.Authenticated() {
		s.Fanout().Reply(c, chat.NewAuthError("Already authenticated"))
		return nil
	}
	if strings.TrimSpace(ev.Username) == "" {
		s.Fanout().Reply(c, chat.NewAuthError("Username is required"))
		return nil
	}

	sctx, cancel := s.StoreContext(ctx)
	defer cancel()

	acc, err := s.Store().AccountByUsername(sctx, ev.Username)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if ev.Password != nil {
			s.Fanout().Reply(c, chat.NewAuthError("User not found"))
			return nil
		}
		acc, err = h.provision(sctx, ev.Username)
		if err != nil {
			s.StoreFailed("create_account", err, zap.String("username", ev.Username))
			s.Fanout().Reply(c, chat.NewAuthError("Failed to create user"))
			return nil
		}
		logger.Info("[Auth] user auto-registered", zap.String("username", acc.Username), zap.String("user_id", acc.ID))
	case err != nil:
		s.StoreFailed("account_by_username", err, zap.String("username", ev.Username))
		s.Fanout().Reply(c, chat.NewAuthError("Database error"))
		return nil
	case ev.Password != nil && !s.Hasher().Verify(acc.PasswordHash, *ev.Password):
		s.Fanout().Reply(c, chat.NewAuthError("Invalid password"))
		return nil
	}

	if !s.Authenticate(ctx, c, acc, loginSuccess) {
		return nil
	}
	if err := s.Store().TouchLastSeen(sctx, acc.ID); err != nil {
		s.StoreFailed("touch_last_seen", err, zap.String("user_id", acc.ID))
	}
	logger.Info("[Auth] user logged in", zap.String("username", acc.Username), zap.String("user_id", acc.ID))
	return nil
}

func (h *LoginHandler) provision(ctx context.Context, username string) (*storage.Account, error) {
	s := h.ctx.S
	hash, err := s.Hasher().Hash("")
	if err != nil {
		return nil, errors.Wrap(err, "hash empty password")
	}
	acc, err := s.Store().CreateAccount(ctx, ids.NewUUID(), username, hash)
	if errors.Is(err, storage.ErrDuplicateUsername) {
		// 另一个连接刚好先建了号
		return s.Store().AccountByUsername(ctx, username)
	}
	return acc, err
}
