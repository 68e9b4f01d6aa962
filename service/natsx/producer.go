package natsx

import (
	"context"
)

// Sink 把消息事件发布到固定 subject，key 与消息ID放在 header 里。
type Sink struct {
	c *NatsxClient
}

func NewSink(c *NatsxClient) *Sink { return &Sink{c: c} }

func (s *Sink) Publish(ctx context.Context, key, id string, payload []byte) error {
	msg := newMsg(s.c.cfg.Subject, payload, map[string]string{HeaderKey: key, HeaderMsgID: id})
	if s.c.cfg.Mode == JetStream {
		return s.c.sendJS(ctx, msg)
	}
	return s.c.sendCore(msg)
}

func (s *Sink) Close() error { return s.c.Close() }
