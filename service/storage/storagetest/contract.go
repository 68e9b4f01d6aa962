// Package storagetest 是 storage.Store 实现共用的行为测试集。
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"PPRelay/service/storage"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run 对 newStore 返回的空 Store 执行全部用例，每个子测试一个新实例。
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"Accounts", testAccounts},
		{"ListAccountsOrdered", testListAccounts},
		{"TouchLastSeen", testTouchLastSeen},
		{"SaveAndPage", testSaveAndPage},
		{"PaginationComplete", testPaginationComplete},
		{"SameTimestampOrder", testSameTimestampOrder},
		{"Attachment", testAttachment},
		{"SelfConversation", testSelfConversation},
		{"Conversations", testConversations},
		{"MarkReadIdempotent", testMarkRead},
		{"Reactions", testReactions},
		{"ReactionsBatch", testReactionsBatch},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(from, to, body string, at time.Time) *storage.Message {
	return &storage.Message{
		ID:         uuid.NewString(),
		FromUserID: from,
		ToUserID:   to,
		Content:    body,
		Timestamp:  at,
	}
}

func testAccounts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, "id-alice", "alice", "hash")
	require.NoError(t, err)
	assert.Equal(t, "alice", a.Username)
	assert.False(t, a.CreatedAt.IsZero())

	_, err = s.CreateAccount(ctx, "id-other", "alice", "hash2")
	assert.True(t, errors.Is(err, storage.ErrDuplicateUsername), "got %v", err)

	got, err := s.AccountByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "id-alice", got.ID)
	assert.Equal(t, "hash", got.PasswordHash)

	got, err = s.AccountByID(ctx, "id-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = s.AccountByUsername(ctx, "nobody")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	_, err = s.AccountByID(ctx, "nobody")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func testListAccounts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := s.CreateAccount(ctx, "id-"+name, name, "h")
		require.NoError(t, err)
	}
	list, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, "bob", list[1].Username)
	assert.Equal(t, "carol", list[2].Username)
}

func testTouchLastSeen(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, "id-a", "a", "h")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.TouchLastSeen(ctx, a.ID))
	got, err := s.AccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.LastSeen.Before(a.LastSeen))
	// 未知账号不报错
	assert.NoError(t, s.TouchLastSeen(ctx, "missing"))
}

func testSaveAndPage(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m1 := msg("a", "b", "first", base)
	m2 := msg("b", "a", "second", base.Add(time.Second))
	m3 := msg("a", "c", "elsewhere", base.Add(2*time.Second))
	for _, m := range []*storage.Message{m1, m2, m3} {
		require.NoError(t, s.SaveMessage(ctx, m))
	}

	page, err := s.MessagesBetween(ctx, "a", "b", 50, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, m2.ID, page[0].ID) // newest first
	assert.Equal(t, m1.ID, page[1].ID)
	assert.Equal(t, "second", page[0].Content)
	assert.True(t, page[1].Timestamp.Equal(base))

	// 参数顺序无关
	page, err = s.MessagesBetween(ctx, "b", "a", 50, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	n, err := s.CountBetween(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	page, err = s.MessagesBetween(ctx, "a", "b", 50, 5)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testPaginationComplete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const n = 23
	want := map[string]bool{}
	for i := 0; i < n; i++ {
		from, to := "a", "b"
		if i%2 == 1 {
			from, to = to, from
		}
		m := msg(from, to, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, s.SaveMessage(ctx, m))
		want[m.ID] = true
	}

	total, err := s.CountBetween(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, n, total)

	seen := map[string]bool{}
	var prev time.Time
	const limit = 5
	for offset := 0; ; offset += limit {
		page, err := s.MessagesBetween(ctx, "a", "b", limit, offset)
		require.NoError(t, err)
		for _, m := range page {
			assert.False(t, seen[m.ID], "duplicate %s", m.ID)
			seen[m.ID] = true
			if !prev.IsZero() {
				assert.True(t, m.Timestamp.Before(prev), "not newest-first")
			}
			prev = m.Timestamp
		}
		if offset+limit >= total {
			break
		}
	}
	assert.Equal(t, want, seen)
}

func testSameTimestampOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m1 := msg("a", "b", "one", base)
	m2 := msg("a", "b", "two", base)
	require.NoError(t, s.SaveMessage(ctx, m1))
	require.NoError(t, s.SaveMessage(ctx, m2))
	page, err := s.MessagesBetween(ctx, "a", "b", 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, m2.ID, page[0].ID)
	assert.Equal(t, m1.ID, page[1].ID)
}

func testAttachment(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d := 3.5
	m := msg("a", "b", "", base)
	m.Attachment = &storage.Attachment{Data: "aGVsbG8=", Name: "v.webm", Type: "audio/webm"}
	m.AudioDuration = &d
	plain := msg("a", "b", "plain", base.Add(time.Second))
	require.NoError(t, s.SaveMessage(ctx, m))
	require.NoError(t, s.SaveMessage(ctx, plain))

	page, err := s.MessagesBetween(ctx, "a", "b", 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Nil(t, page[0].Attachment)
	assert.Nil(t, page[0].AudioDuration)
	require.NotNil(t, page[1].Attachment)
	assert.Equal(t, *m.Attachment, *page[1].Attachment)
	require.NotNil(t, page[1].AudioDuration)
	assert.InDelta(t, 3.5, *page[1].AudioDuration, 1e-9)
}

func testSelfConversation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveMessage(ctx, msg("a", "a", "note", base)))
	require.NoError(t, s.SaveMessage(ctx, msg("a", "b", "x", base)))
	page, err := s.MessagesBetween(ctx, "a", "a", 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "note", page[0].Content)
}

func testConversations(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveMessage(ctx, msg("a", "b", "ab-1", base)))
	require.NoError(t, s.SaveMessage(ctx, msg("b", "a", "ab-2", base.Add(3*time.Second))))
	require.NoError(t, s.SaveMessage(ctx, msg("c", "a", "ac-1", base.Add(time.Second))))
	require.NoError(t, s.SaveMessage(ctx, msg("b", "c", "bc-1", base.Add(5*time.Second))))

	convs, err := s.Conversations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "ab-2", convs[0].Content)
	assert.Equal(t, "b", convs[0].Counterpart("a"))
	assert.Equal(t, "ac-1", convs[1].Content)

	unread, err := s.UnreadCount(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func testMarkRead(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := msg("a", "b", "hi", base)
	require.NoError(t, s.SaveMessage(ctx, m))

	n, err := s.UnreadCount(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.MarkRead(ctx, m.ID))
	require.NoError(t, s.MarkRead(ctx, m.ID))
	require.NoError(t, s.MarkRead(ctx, "unknown"))

	page, err := s.MessagesBetween(ctx, "a", "b", 1, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].Read)

	n, err = s.UnreadCount(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testReactions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := msg("a", "b", "hi", base)
	require.NoError(t, s.SaveMessage(ctx, m))

	require.NoError(t, s.UpsertReaction(ctx, m.ID, "u", "👍"))
	r, err := s.Reactions(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u": "👍"}, r)

	require.NoError(t, s.UpsertReaction(ctx, m.ID, "u", "❤️"))
	r, err = s.Reactions(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u": "❤️"}, r)

	require.NoError(t, s.DeleteReaction(ctx, m.ID, "u"))
	r, err = s.Reactions(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, r)

	assert.NoError(t, s.DeleteReaction(ctx, m.ID, "u"))
}

func testReactionsBatch(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m1 := msg("a", "b", "1", base)
	m2 := msg("a", "b", "2", base.Add(time.Second))
	m3 := msg("a", "b", "3", base.Add(2*time.Second))
	for _, m := range []*storage.Message{m1, m2, m3} {
		require.NoError(t, s.SaveMessage(ctx, m))
	}
	require.NoError(t, s.UpsertReaction(ctx, m1.ID, "a", "x"))
	require.NoError(t, s.UpsertReaction(ctx, m1.ID, "b", "y"))
	require.NoError(t, s.UpsertReaction(ctx, m2.ID, "a", "z"))

	got, err := s.ReactionsBatch(ctx, []string{m1.ID, m2.ID, m3.ID})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "x", "b": "y"}, got[m1.ID])
	assert.Equal(t, map[string]string{"a": "z"}, got[m2.ID])
	assert.Empty(t, got[m3.ID])

	got, err = s.ReactionsBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
