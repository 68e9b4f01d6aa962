package storage

import (
	"context"
	"time"

	"PPRelay/logger"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// presence key: im:presence:<user>
// Value: node id, TTL controls the online validity period
func presenceKey(user string) string { return "im:presence:" + user }

// RedisPresence 把本节点的在线状态镜像到 redis，供其他服务查询。
type RedisPresence struct {
	rdb    *redis.Client
	nodeID string
	ttl    time.Duration
}

func NewRedisPresence(rdb *redis.Client, nodeID string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisPresence{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

// SetOnline sets the user as online and renews the TTL
func (p *RedisPresence) SetOnline(ctx context.Context, user string) error {
	return errors.Wrap(p.rdb.Set(ctx, presenceKey(user), p.nodeID, p.ttl).Err(), "presence online")
}

// SetOffline deletes the key, but only if this node still owns it.
func (p *RedisPresence) SetOffline(ctx context.Context, user string) error {
	err := p.rdb.Watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, presenceKey(user)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if owner != p.nodeID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, presenceKey(user))
			return nil
		})
		return err
	}, presenceKey(user))
	return errors.Wrap(err, "presence offline")
}

// Lookup checks whether the user is online and on which node
func (p *RedisPresence) Lookup(ctx context.Context, user string) (nodeID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "presence lookup")
	}
	return val, true, nil
}

// KeepAlive 每 ttl/2 为 online() 返回的用户续期，直到 ctx 结束。
func (p *RedisPresence) KeepAlive(ctx context.Context, online func() []string) {
	ticker := time.NewTicker(p.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			users := online()
			if len(users) == 0 {
				continue
			}
			_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, u := range users {
					pipe.Set(ctx, presenceKey(u), p.nodeID, p.ttl)
				}
				return nil
			})
			if err != nil {
				logger.Warn("presence keepalive failed", zap.Int("users", len(users)), zap.Error(err))
			}
		}
	}
}
