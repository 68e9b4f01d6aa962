package natsx

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestNewMsgHeaders(t *testing.T) {
	msg := newMsg("relay.messages", []byte(`{}`), map[string]string{HeaderKey: "im:dm:a:b", HeaderMsgID: "m1"})
	assert.Equal(t, "relay.messages", msg.Subject)
	assert.Equal(t, "im:dm:a:b", msg.Header.Get(HeaderKey))
	assert.Equal(t, "m1", msg.Header.Get(nats.MsgIdHdr))
}

func TestNewClientNeedsServers(t *testing.T) {
	_, err := NewNatsxClient(NatsxConfig{})
	assert.Error(t, err)
}
