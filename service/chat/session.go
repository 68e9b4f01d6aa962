package chat

import (
	"context"
	"net"
	"time"

	"PPRelay/logger"
	"PPRelay/tools/ids"
	"PPRelay/tools/safe"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Transport 会话使用的连接能力，*websocket.Conn 直接满足
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type session struct {
	srv     *Server
	c       *Client
	conn    Transport
	limiter *rate.Limiter
	log     *zap.Logger
}

// Serve runs one connection until either loop ends, then the disconnect
// path. It blocks for the lifetime of the connection.
func (s *Server) Serve(conn Transport) {
	s.sessions.Add(1)
	defer s.sessions.Done()

	c := NewClient(ids.GenerateString(), s.opts.MaxQueue)
	ss := &session{
		srv:  s,
		c:    c,
		conn: conn,
		log:  logger.With(zap.String("conn_id", c.ConnID)),
	}
	if s.opts.RateLimit > 0 {
		ss.limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateBurst)
	}

	s.active.Add(1)
	defer s.active.Add(-1)
	s.deps.Metrics.SessionOpened()
	defer s.deps.Metrics.SessionClosed()
	ss.log.Debug("[WS] session opened")

	ss.run(s.base)
	s.Disconnect(c)
	ss.log.Debug("[WS] session closed", zap.String("user_id", c.UserID()))
}

func (ss *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// 读写协程谁先退出谁 cancel，另一个随之收尾
	g.Go(func() (err error) {
		defer cancel()
		defer safe.Recover("ws reader", &err)
		return ss.readLoop(ctx)
	})
	g.Go(func() (err error) {
		defer cancel()
		defer safe.Recover("ws writer", &err)
		return ss.writeLoop(ctx)
	})
	// watcher：cancel 后关闭队列，写协程 Pop 立即返回
	g.Go(func() error {
		<-ctx.Done()
		ss.c.outbox.Close()
		return nil
	})
	if err := g.Wait(); err != nil {
		ss.log.Warn("[WS] session ended with error", zap.Error(err))
	}
}

func (ss *session) readLoop(ctx context.Context) error {
	for {
		mt, data, err := ss.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				ss.log.Debug("[WS] peer closed", zap.Error(err))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				ss.log.Info("[WS] read timeout", zap.Error(err))
			} else if ctx.Err() == nil {
				ss.log.Info("[WS] read err", zap.Error(err))
			}
			return nil
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		ev, err := DecodeClientEvent(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			ss.srv.deps.Metrics.Invalid()
			ss.log.Debug("[WS] drop frame", zap.Error(err), zap.ByteString("sample", sample), zap.Int("len", len(data)))
			continue
		}
		if ss.limiter != nil && !ss.limiter.Allow() {
			ss.srv.deps.Metrics.RateLimited()
			ss.log.Debug("[WS] rate limited", zap.String("type", ev.EventType()))
			continue
		}
		ss.srv.HandleEvent(ctx, ss.c, ev)
	}
}

func (ss *session) writeLoop(ctx context.Context) error {
	defer func() {
		_ = ss.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(ss.srv.opts.WriteWait))
		_ = ss.conn.Close()
	}()

	var tick <-chan time.Time
	if ss.srv.opts.PingInterval > 0 {
		ticker := time.NewTicker(ss.srv.opts.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	events := make(chan ServerEvent)
	go func() {
		defer close(events)
		for {
			ev, ok := ss.c.outbox.Pop(ctx)
			if !ok {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := EncodeServerEvent(ev)
			if err != nil {
				ss.log.Error("[WS] encode failed", zap.Error(err))
				continue
			}
			_ = ss.conn.SetWriteDeadline(time.Now().Add(ss.srv.opts.WriteWait))
			if err := ss.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				ss.log.Info("[WS] write err", zap.Error(err), zap.String("user_id", ss.c.UserID()))
				return nil
			}
		case <-tick:
			if err := ss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ss.srv.opts.WriteWait)); err != nil {
				ss.log.Info("[WS] ping err", zap.Error(err))
				return nil
			}
		}
	}
}

// HandleEvent routes one decoded event for c. Panics in handlers are
// recovered and the event is dropped.
func (s *Server) HandleEvent(ctx context.Context, c *Client, ev ClientEvent) {
	t := ev.EventType()
	defer safe.Recover("dispatch "+t, nil)

	start := time.Now()
	err := s.disp.Dispatch(ctx, c, ev)
	switch {
	case errors.Is(err, ErrNoHandler):
		return
	case errors.Is(err, ErrNotAuthenticated):
		if s.opts.RejectUnauthenticated {
			s.fanout.Reply(c, NewError("Not authenticated"))
		}
		return
	case err != nil:
		logger.Warn("[Dispatch] handler error",
			zap.String("type", t), zap.String("conn_id", c.ConnID), zap.String("user_id", c.UserID()), zap.Error(err))
	}
	s.deps.Metrics.Inbound(t)
	s.deps.Metrics.Observe(t, start)
}
