package chat

import (
	"sync"
)

// Client 一条物理连接对应的会话状态
type Client struct {
	ConnID string

	mu       sync.RWMutex
	userID   string
	username string

	outbox         *Outbox
	disconnectOnce sync.Once
}

func NewClient(connID string, maxQueue int) *Client {
	return &Client{ConnID: connID, outbox: NewOutbox(maxQueue)}
}

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) Authenticated() bool { return c.UserID() != "" }

// bind 认证是单向的：已绑定的连接不能再换身份
func (c *Client) bind(userID, username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		return false
	}
	c.userID = userID
	c.username = username
	return true
}

// Send queues ev without blocking. false means the client is unreachable.
func (c *Client) Send(ev ServerEvent) bool { return c.outbox.Push(ev) }

func (c *Client) Outbox() *Outbox { return c.outbox }
