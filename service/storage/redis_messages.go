package storage

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// —— Conversation event mirror: Redis Streams ——

const streamMaxLen = 100_000

// RedisStreamSink 把事件追加到以 key 命名的 stream（会话键见 DMKey）。
type RedisStreamSink struct {
	rdb    *redis.Client
	maxLen int64
}

func NewRedisStreamSink(rdb *redis.Client) *RedisStreamSink {
	return &RedisStreamSink{rdb: rdb, maxLen: streamMaxLen}
}

func streamArgs(key, id string, payload []byte, maxLen int64) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{"id": id, "payload": payload},
		Approx: true,
		MaxLen: maxLen,
	}
}

func (s *RedisStreamSink) Publish(ctx context.Context, key, id string, payload []byte) error {
	_, err := s.rdb.XAdd(ctx, streamArgs(key, id, payload, s.maxLen)).Result()
	return errors.Wrap(err, "xadd event")
}

func (s *RedisStreamSink) Close() error { return nil }
