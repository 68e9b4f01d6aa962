package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"PPRelay/logger"
	"PPRelay/service/storage"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Options struct {
	WriteWait       time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	MaxQueue        int
	RateLimit       float64
	RateBurst       int
	MaxHistoryLimit int
	// RejectUnauthenticated 为 true 时未登录连接的业务事件回 Error，否则静默丢弃
	RejectUnauthenticated bool
	StoreTimeout          time.Duration
	// AllowOrigins websocket 握手允许的 Origin，为空时不限制
	AllowOrigins []string
}

func DefaultOptions() Options {
	return Options{
		WriteWait:       10 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 << 20,
		RateBurst:       20,
		MaxHistoryLimit: 200,
		StoreTimeout:    5 * time.Second,
	}
}

// Deps 外部协作者；Store 和 Hasher 必填，其余可为 nil
type Deps struct {
	Store   storage.Store
	Hasher  PasswordHasher
	Tokens  TokenIssuer
	Mirror  PresenceMirror
	Sink    EventSink
	Metrics *Metrics
}

type Server struct {
	opts Options
	deps Deps

	presence *PresenceRegistry
	sockets  *SocketDirectory
	fanout   *Fanout
	disp     *Dispatcher
	upgrader *websocket.Upgrader
	// online 保证 sockets 和 presence 对同一用户的更新成对生效
	online sync.Mutex

	base     context.Context
	stop     context.CancelFunc
	sessions sync.WaitGroup
	active   atomic.Int64
}

func NewServer(opts Options, deps Deps) *Server {
	def := DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.MaxHistoryLimit <= 0 {
		opts.MaxHistoryLimit = def.MaxHistoryLimit
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = def.RateBurst
	}

	s := &Server{
		opts:     opts,
		deps:     deps,
		presence: NewPresenceRegistry(),
		sockets:  NewSocketDirectory(),
		disp:     NewDispatcher(),
		upgrader: newUpgrader(opts.AllowOrigins),
	}
	s.fanout = NewFanout(s.sockets, deps.Metrics)
	s.base, s.stop = context.WithCancel(context.Background())
	return s
}

func (s *Server) Options() Options             { return s.opts }
func (s *Server) Store() storage.Store         { return s.deps.Store }
func (s *Server) Hasher() PasswordHasher       { return s.deps.Hasher }
func (s *Server) Sink() EventSink              { return s.deps.Sink }
func (s *Server) Metrics() *Metrics            { return s.deps.Metrics }
func (s *Server) Presence() *PresenceRegistry  { return s.presence }
func (s *Server) Sockets() *SocketDirectory    { return s.sockets }
func (s *Server) Fanout() *Fanout              { return s.fanout }
func (s *Server) Disp() *Dispatcher            { return s.disp }
func (s *Server) ChatContext() *Context        { return &Context{S: s} }
func (s *Server) OnlineUserIDs() []string      { return s.presence.OnlineIDs() }
func (s *Server) BaseContext() context.Context { return s.base }
func (s *Server) ActiveSessions() int          { return int(s.active.Load()) }

// StoreContext bounds one persistence call.
func (s *Server) StoreContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

// StoreFailed 记录一次持久化失败
func (s *Server) StoreFailed(op string, err error, fields ...zap.Field) {
	s.deps.Metrics.StoreError(op)
	logger.Error("[Store] "+op+" failed", append(fields, zap.Error(err))...)
}

// Authenticate binds c to acc and runs the online sequence: success event to
// c, online snapshot (others only) to c, UserOnline to every other socket.
// It returns false when c is already authenticated.
func (s *Server) Authenticate(ctx context.Context, c *Client, acc *storage.Account, success func(User, string) ServerEvent) bool {
	if !c.bind(acc.ID, acc.Username) {
		return false
	}
	s.online.Lock()
	prev := s.sockets.Register(acc.ID, c)
	rec := s.presence.SetOnline(acc.ID, acc.Username, time.Now().UTC())
	s.online.Unlock()
	if prev != nil {
		logger.Info("[Session] superseded",
			zap.String("user_id", acc.ID), zap.String("old_conn", prev.ConnID), zap.String("conn_id", c.ConnID))
	}
	s.deps.Metrics.SetAuthenticated(s.sockets.Len())
	s.mirrorOnline(ctx, acc.ID)

	var token string
	if s.deps.Tokens != nil {
		t, err := s.deps.Tokens.Issue(acc.ID)
		if err != nil {
			logger.Warn("[Session] issue token failed", zap.String("user_id", acc.ID), zap.Error(err))
		}
		token = t
	}

	user := UserFromRecord(rec)
	s.fanout.Reply(c, success(user, token))

	others := make([]User, 0)
	for _, r := range s.presence.Online() {
		if r.UserID != acc.ID {
			others = append(others, UserFromRecord(r))
		}
	}
	s.fanout.Reply(c, NewOnlineUsers(others))
	s.fanout.BroadcastExcept(acc.ID, NewUserOnline(user))
	return true
}

// Disconnect runs the offline path for c at most once. A client that has
// been superseded by a newer session for the same identity leaves the
// directory, presence and peers untouched.
func (s *Server) Disconnect(c *Client) {
	c.disconnectOnce.Do(func() {
		userID := c.UserID()
		if userID == "" {
			return
		}
		s.online.Lock()
		removed := s.sockets.Unregister(userID, c)
		if removed {
			s.presence.SetOffline(userID, time.Now().UTC())
		}
		s.online.Unlock()
		if !removed {
			logger.Info("[Session] superseded session closed",
				zap.String("user_id", userID), zap.String("conn_id", c.ConnID))
			return
		}
		s.deps.Metrics.SetAuthenticated(s.sockets.Len())

		ctx, cancel := s.StoreContext(context.Background())
		defer cancel()
		if err := s.deps.Store.TouchLastSeen(ctx, userID); err != nil {
			s.StoreFailed("touch_last_seen", err, zap.String("user_id", userID))
		}
		if s.deps.Mirror != nil {
			if err := s.deps.Mirror.SetOffline(ctx, userID); err != nil {
				logger.Warn("[Presence] mirror offline failed", zap.String("user_id", userID), zap.Error(err))
			}
		}

		s.fanout.Broadcast(NewUserOffline(userID))
		logger.Info("[Session] user disconnected", zap.String("user_id", userID), zap.String("conn_id", c.ConnID))
	})
}

func (s *Server) mirrorOnline(ctx context.Context, userID string) {
	if s.deps.Mirror == nil {
		return
	}
	mctx, cancel := s.StoreContext(ctx)
	defer cancel()
	if err := s.deps.Mirror.SetOnline(mctx, userID); err != nil {
		logger.Warn("[Presence] mirror online failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Shutdown cancels every open session and waits for them to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
