package storage

import (
	"context"
	"os"
	"testing"
	"time"

	rdsx "PPRelay/service/storage/redis"
	"PPRelay/tools/ids"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPresence(t *testing.T) {
	addr := os.Getenv("PPRELAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PPRELAY_TEST_REDIS_ADDR not set")
	}
	rdb, err := rdsx.NewClient(rdsx.Config{Addr: addr})
	require.NoError(t, err)
	defer rdb.Close()

	ctx := context.Background()
	user := "test-" + ids.GenerateString()
	p := NewRedisPresence(rdb, "node-a", time.Minute)
	other := NewRedisPresence(rdb, "node-b", time.Minute)

	require.NoError(t, p.SetOnline(ctx, user))
	node, online, err := p.Lookup(ctx, user)
	require.NoError(t, err)
	assert.True(t, online)
	assert.Equal(t, "node-a", node)

	// 其他节点不能删除不属于自己的键
	require.NoError(t, other.SetOffline(ctx, user))
	_, online, err = p.Lookup(ctx, user)
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, p.SetOffline(ctx, user))
	_, online, err = p.Lookup(ctx, user)
	require.NoError(t, err)
	assert.False(t, online)
}
