package chat

import (
	"context"
)

// Context 传给各个 handler 构造函数的共享依赖
type Context struct {
	S *Server
}

// PresenceMirror 把在线状态同步到外部（redis）
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

// EventSink 消息落库后的下游投递（nats / kafka / redis stream）
type EventSink interface {
	Publish(ctx context.Context, key, id string, payload []byte) error
	Close() error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

type TokenIssuer interface {
	Issue(userID string) (string, error)
}
