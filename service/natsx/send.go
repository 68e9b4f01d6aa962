package natsx

import (
	"context"

	"github.com/golang/glog"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

const (
	HeaderKey   = "Relay-Key"
	HeaderMsgID = nats.MsgIdHdr
)

func newMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return msg
}

func (c *NatsxClient) sendCore(msg *nats.Msg) error {
	if err := c.nc.PublishMsg(msg); err != nil {
		return errors.Wrap(err, "publish failed")
	}
	return nil
}

func (c *NatsxClient) sendJS(ctx context.Context, msg *nats.Msg) error {
	ack, err := c.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return errors.Wrap(err, "publish failed")
	}
	if ack.Duplicate {
		glog.V(1).Infof("[natsx] duplicate suppressed stream=%s seq=%d", ack.Stream, ack.Sequence)
	}
	return nil
}
