package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	midsec "PPRelay/middleware/security"
	"PPRelay/service/chat"
	"PPRelay/service/storage"
	"PPRelay/service/storage/memstore"
	"PPRelay/tools/security"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fixture struct {
	engine   *gin.Engine
	store    storage.Store
	presence *chat.PresenceRegistry
}

func newFixture(t *testing.T, auth *midsec.Options) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := memstore.New()
	presence := chat.NewPresenceRegistry()
	r := gin.New()
	New(st, presence, Options{MaxLimit: 10, Health: "ok"}).Mount(r, auth)
	return &fixture{engine: r, store: st, presence: presence}
}

func (f *fixture) get(t *testing.T, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, st storage.Store) {
	t.Helper()
	ctx := context.Background()
	for _, a := range [][2]string{{"u1", "alice"}, {"u2", "bob"}, {"u3", "carol"}} {
		_, err := st.CreateAccount(ctx, a[0], a[1], "h")
		require.NoError(t, err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []*storage.Message{
		{ID: "m1", FromUserID: "u1", ToUserID: "u2", Content: "one", Timestamp: base},
		{ID: "m2", FromUserID: "u2", ToUserID: "u1", Content: "two", Timestamp: base.Add(time.Second)},
		{ID: "m3", FromUserID: "u2", ToUserID: "u1", Content: "three", Timestamp: base.Add(2 * time.Second)},
		{ID: "m4", FromUserID: "u3", ToUserID: "u1", Content: "hey", Timestamp: base.Add(3 * time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, st.SaveMessage(ctx, m))
	}
	require.NoError(t, st.UpsertReaction(ctx, "m3", "u1", "❤️"))
	require.NoError(t, st.MarkRead(ctx, "m2"))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	w := f.get(t, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestUsersOnlineFlag(t *testing.T) {
	f := newFixture(t, nil)
	seed(t, f.store)
	f.presence.SetOnline("u2", "bob", time.Now())

	w := f.get(t, "/api/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var users []chat.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Username)
	assert.False(t, users[0].Online)
	assert.True(t, users[1].Online)
}

func TestMessagesPage(t *testing.T) {
	f := newFixture(t, nil)
	seed(t, f.store)

	w := f.get(t, "/api/messages/u1/u2?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []chat.ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	// 时间倒序
	assert.Equal(t, "m3", msgs[0].ID)
	assert.Equal(t, map[string]string{"u1": "❤️"}, msgs[0].Reactions)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Empty(t, msgs[1].Reactions)

	w = f.get(t, "/api/messages/u2/u1?offset=2&limit=abc", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)

	w = f.get(t, "/api/messages/u1/nobody", nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestConversations(t *testing.T) {
	f := newFixture(t, nil)
	seed(t, f.store)

	w := f.get(t, "/api/conversations/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out []ConversationSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)

	assert.Equal(t, "u3", out[0].UserID)
	assert.Equal(t, "m4", out[0].LastMessage.ID)
	assert.Equal(t, 1, out[0].UnreadCount)

	assert.Equal(t, "u2", out[1].UserID)
	assert.Equal(t, "m3", out[1].LastMessage.ID)
	assert.Equal(t, 1, out[1].UnreadCount)
}

func TestRequireToken(t *testing.T) {
	issuer := security.NewIssuer(security.DefaultOptions([]byte("secret")))
	f := newFixture(t, midsec.DefaultOptions(issuer))
	seed(t, f.store)

	w := f.get(t, "/api/users", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.get(t, "/api/users", http.Header{"Authorization": {"Bearer nope"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, err := issuer.Issue("u1")
	require.NoError(t, err)
	w = f.get(t, "/api/users", http.Header{"Authorization": {"Bearer " + tok}})
	assert.Equal(t, http.StatusOK, w.Code)

	// 健康检查不需要 token
	assert.Equal(t, http.StatusOK, f.get(t, "/", nil).Code)
}
