package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("storage: record not found")
	ErrDuplicateUsername = errors.New("storage: username already exists")
	ErrDuplicateMessage  = errors.New("storage: message id already exists")
)

type Account struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	LastSeen     time.Time
}

// Attachment 文件/语音消息的内联载荷（base64）。
type Attachment struct {
	Data string
	Name string
	Type string
}

type Message struct {
	ID            string
	FromUserID    string
	ToUserID      string
	Content       string
	Timestamp     time.Time
	Read          bool
	Attachment    *Attachment
	AudioDuration *float64
}

// Store 持久化网关。所有实现都必须能被多个会话并发调用。
type Store interface {
	CreateAccount(ctx context.Context, id, username, passwordHash string) (*Account, error)
	AccountByUsername(ctx context.Context, username string) (*Account, error)
	AccountByID(ctx context.Context, id string) (*Account, error)
	// ListAccounts 按用户名升序
	ListAccounts(ctx context.Context) ([]*Account, error)
	TouchLastSeen(ctx context.Context, id string) error

	SaveMessage(ctx context.Context, m *Message) error
	// MessagesBetween 双向会话，时间倒序
	MessagesBetween(ctx context.Context, a, b string, limit, offset int) ([]*Message, error)
	// Conversations 每个对端的最新一条消息，时间倒序
	Conversations(ctx context.Context, user string) ([]*Message, error)
	MarkRead(ctx context.Context, messageID string) error
	UnreadCount(ctx context.Context, to, from string) (int, error)
	CountBetween(ctx context.Context, a, b string) (int, error)

	UpsertReaction(ctx context.Context, messageID, userID, emoji string) error
	DeleteReaction(ctx context.Context, messageID, userID string) error
	Reactions(ctx context.Context, messageID string) (map[string]string, error)
	ReactionsBatch(ctx context.Context, messageIDs []string) (map[string]map[string]string, error)

	Close() error
}

// DMKey 单聊会话键，与参数顺序无关。
func DMKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return fmt.Sprintf("im:dm:%s:%s", p[0], p[1])
}

// Counterpart 返回消息在 user 视角下的对端。
func (m *Message) Counterpart(user string) string {
	if m.FromUserID == user {
		return m.ToUserID
	}
	return m.FromUserID
}

// Involves 消息是否属于 a 与 b 之间的会话。
func (m *Message) Involves(a, b string) bool {
	return (m.FromUserID == a && m.ToUserID == b) || (m.FromUserID == b && m.ToUserID == a)
}
