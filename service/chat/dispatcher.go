package chat

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNoHandler        = errors.New("no handler for event type")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Handler 处理一种上行事件
type Handler interface {
	Type() string
	// RequiresAuth 为 true 时未登录连接的事件不会进入 Handle
	RequiresAuth() bool
	Handle(ctx context.Context, c *Client, ev ClientEvent) error
}

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

// Dispatch 找到对应 handler 并执行；未登录的连接调用需要认证的 handler 返回 ErrNotAuthenticated
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, ev ClientEvent) error {
	h, ok := d.handlers[ev.EventType()]
	if !ok {
		return errors.Wrapf(ErrNoHandler, "type=%s", ev.EventType())
	}
	if h.RequiresAuth() && !c.Authenticated() {
		return ErrNotAuthenticated
	}
	return h.Handle(ctx, c, ev)
}
