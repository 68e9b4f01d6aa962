package handlers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PPRelay/service/chat"
	"PPRelay/service/chat/handlers"
	"PPRelay/service/storage"
	"PPRelay/service/storage/memstore"
	"PPRelay/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type relay struct {
	srv   *chat.Server
	store storage.Store
	url   string
}

func newRelay(t *testing.T, mutate func(*chat.Options)) *relay {
	return newRelayWith(t, memstore.New(), nil, mutate)
}

func newRelayWith(t *testing.T, st storage.Store, sink chat.EventSink, mutate func(*chat.Options)) *relay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	opts := chat.DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	srv := chat.NewServer(opts, chat.Deps{
		Store:  st,
		Hasher: security.NewBcryptHasher(bcrypt.MinCost),
		Sink:   sink,
	})
	handlers.RegisterAll(srv.ChatContext())

	r := gin.New()
	r.GET("/ws", srv.HandleWS)
	ts := httptest.NewServer(r)

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return &relay{srv: srv, store: st, url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

type event map[string]any

func (e event) str(k string) string {
	s, _ := e[k].(string)
	return s
}

func (e event) obj(k string) event {
	m, _ := e[k].(map[string]any)
	return m
}

func (e event) list(k string) []event {
	raw, _ := e[k].([]any)
	out := make([]event, 0, len(raw))
	for _, v := range raw {
		m, _ := v.(map[string]any)
		out = append(out, m)
	}
	return out
}

func (r *relay) dial(t *testing.T) *peer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) send(v any) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteJSON(v))
}

func (p *peer) sendRaw(s string) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, []byte(s)))
}

func (p *peer) next() event {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	var ev event
	require.NoError(p.t, json.Unmarshal(data, &ev))
	return ev
}

// until reads events up to and including the first of type typ.
func (p *peer) until(typ string) (event, []event) {
	p.t.Helper()
	var skipped []event
	for {
		ev := p.next()
		if ev.str("type") == typ {
			return ev, skipped
		}
		skipped = append(skipped, ev)
	}
}

// silent asserts nothing arrives within d. The connection is unusable afterwards.
func (p *peer) silent(d time.Duration) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := p.conn.ReadMessage()
	require.Error(p.t, err, "unexpected frame %s", data)
}

func (r *relay) register(t *testing.T, name, password string) *peer {
	p := r.dial(t)
	p.send(event{"type": "Register", "username": name, "password": password})
	ok := p.next()
	require.Equal(t, "RegisterSuccess", ok.str("type"), "%v", ok)
	p.id = ok.obj("user").str("id")
	p.until("OnlineUsers")
	return p
}

func (r *relay) login(t *testing.T, name string, password *string) *peer {
	p := r.dial(t)
	msg := event{"type": "Login", "username": name}
	if password != nil {
		msg["password"] = *password
	}
	p.send(msg)
	ok := p.next()
	require.Equal(t, "LoginSuccess", ok.str("type"), "%v", ok)
	p.id = ok.obj("user").str("id")
	p.until("OnlineUsers")
	return p
}

func ptr(s string) *string { return &s }

func TestRegisterLoginAndSend(t *testing.T) {
	r := newRelay(t, nil)

	alice := r.dial(t)
	alice.send(event{"type": "Register", "username": "alice", "password": "p1"})
	ok := alice.next()
	require.Equal(t, "RegisterSuccess", ok.str("type"))
	assert.Equal(t, "alice", ok.obj("user").str("username"))
	assert.Equal(t, true, ok.obj("user")["online"])
	alice.id = ok.obj("user").str("id")
	snap := alice.next()
	require.Equal(t, "OnlineUsers", snap.str("type"))
	assert.Empty(t, snap.list("users"))

	bob := r.login(t, "bob", nil)
	online, _ := alice.until("UserOnline")
	assert.Equal(t, bob.id, online.obj("user").str("id"))

	alice.send(event{"type": "SendMessage", "to_user_id": bob.id, "content": "hi"})
	got, _ := bob.until("NewMessage")
	echo, _ := alice.until("NewMessage")

	m := got.obj("message")
	assert.Equal(t, "hi", m.str("content"))
	assert.Equal(t, alice.id, m.str("from_user_id"))
	assert.Equal(t, bob.id, m.str("to_user_id"))
	assert.NotEmpty(t, m.str("id"))
	assert.Equal(t, false, m["read"])
	assert.Equal(t, m.str("id"), echo.obj("message").str("id"))

	_, err := r.store.AccountByUsername(context.Background(), "bob")
	assert.NoError(t, err)
}

func TestOfflineRecipientThenHistory(t *testing.T) {
	r := newRelay(t, nil)
	alice := r.register(t, "alice", "p1")
	bob := r.register(t, "bob", "pw")
	bobID := bob.id
	alice.until("UserOnline")

	require.NoError(t, bob.conn.Close())
	off, _ := alice.until("UserOffline")
	assert.Equal(t, bobID, off.str("user_id"))

	alice.send(event{"type": "SendMessage", "to_user_id": bobID, "content": "later"})
	alice.until("NewMessage")

	bob2 := r.login(t, "bob", ptr("pw"))
	assert.Equal(t, bobID, bob2.id)
	bob2.send(event{"type": "GetMessageHistory", "other_user_id": alice.id})
	hist, _ := bob2.until("MessageHistory")
	msgs := hist.list("messages")
	require.Len(t, msgs, 1)
	assert.Equal(t, "later", msgs[0].str("content"))
	assert.Equal(t, float64(1), hist["total_count"])
	assert.Equal(t, false, hist["has_more"])
}

func TestAuthErrors(t *testing.T) {
	r := newRelay(t, nil)
	alice := r.register(t, "alice", "p1")

	p := r.dial(t)
	p.send(event{"type": "Register", "username": "alice", "password": "x"})
	assert.Equal(t, event{"type": "AuthError", "message": "Username already exists"}, p.next())

	p.send(event{"type": "Login", "username": "alice", "password": "wrong"})
	assert.Equal(t, "Invalid password", p.next().str("message"))

	p.send(event{"type": "Login", "username": "nobody", "password": "x"})
	assert.Equal(t, "User not found", p.next().str("message"))

	p.send(event{"type": "Login", "username": "  "})
	assert.Equal(t, "Username is required", p.next().str("message"))

	// 失败后连接仍然可用
	p.send(event{"type": "Login", "username": "alice", "password": "p1"})
	assert.Equal(t, "LoginSuccess", p.next().str("type"))

	alice.send(event{"type": "Login", "username": "alice"})
	ev, _ := alice.until("AuthError")
	assert.Equal(t, "Already authenticated", ev.str("message"))
}

func TestUnauthenticatedEventsIgnored(t *testing.T) {
	r := newRelay(t, nil)
	p := r.dial(t)
	p.send(event{"type": "GetOnlineUsers"})
	p.send(event{"type": "SendMessage", "to_user_id": "x", "content": "hi"})
	p.send(event{"type": "Login", "username": "carol"})
	ok := p.next()
	require.Equal(t, "LoginSuccess", ok.str("type"))

	n, err := r.store.CountBetween(context.Background(), "x", ok.obj("user").str("id"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnauthenticatedEventsRejected(t *testing.T) {
	r := newRelay(t, func(o *chat.Options) { o.RejectUnauthenticated = true })
	p := r.dial(t)
	p.send(event{"type": "GetOnlineUsers"})
	assert.Equal(t, event{"type": "Error", "message": "Not authenticated"}, p.next())
}

func TestMalformedFramesDropped(t *testing.T) {
	r := newRelay(t, nil)
	p := r.dial(t)
	p.sendRaw("garbage")
	p.sendRaw(`{"type":"Shout"}`)
	p.sendRaw(`{"type":"Register","username":"dave"}`)
	require.NoError(t, p.conn.WriteMessage(websocket.BinaryMessage, []byte(`{"type":"Login","username":"dave"}`)))
	assert.Equal(t, "LoginSuccess", p.next().str("type"))
}

func TestSupersededConnection(t *testing.T) {
	r := newRelay(t, nil)
	bob := r.register(t, "bob", "pw")
	first := r.register(t, "alice", "p1")
	bob.until("UserOnline")

	second := r.login(t, "alice", ptr("p1"))
	assert.Equal(t, first.id, second.id)
	bob.until("UserOnline")

	require.NoError(t, first.conn.Close())
	require.Eventually(t, func() bool { return r.srv.ActiveSessions() == 2 }, 3*time.Second, 10*time.Millisecond)

	bob.send(event{"type": "SendMessage", "to_user_id": second.id, "content": "still there?"})
	got, _ := second.until("NewMessage")
	assert.Equal(t, "still there?", got.obj("message").str("content"))

	_, skipped := bob.until("NewMessage")
	for _, ev := range skipped {
		assert.NotEqual(t, "UserOffline", ev.str("type"))
	}
	assert.True(t, r.srv.Presence().IsOnline(second.id))
}

func TestReactions(t *testing.T) {
	r := newRelay(t, nil)
	alice := r.register(t, "alice", "p1")
	bob := r.register(t, "bob", "p2")
	alice.until("UserOnline")

	alice.send(event{"type": "SendMessage", "to_user_id": bob.id, "content": "react to me"})
	delivered, _ := bob.until("NewMessage")
	id := delivered.obj("message").str("id")
	alice.until("NewMessage")

	bob.send(event{"type": "AddReaction", "message_id": id, "emoji": "👍"})
	for _, p := range []*peer{alice, bob} {
		ev, _ := p.until("MessageReaction")
		assert.Equal(t, "👍", ev.str("emoji"))
		assert.Equal(t, bob.id, ev.str("user_id"))
	}

	bob.send(event{"type": "AddReaction", "message_id": id, "emoji": "🎉"})
	bob.until("MessageReaction")
	bob.send(event{"type": "GetMessageHistory", "other_user_id": alice.id})
	hist, _ := bob.until("MessageHistory")
	require.Len(t, hist.list("messages"), 1)
	assert.Equal(t, map[string]any{bob.id: "🎉"}, hist.list("messages")[0]["reactions"])

	bob.send(event{"type": "RemoveReaction", "message_id": id})
	ev, _ := alice.until("MessageReaction")
	for ev.str("emoji") != "" {
		ev, _ = alice.until("MessageReaction")
	}
	v, present := ev["emoji"]
	assert.True(t, present)
	assert.Nil(t, v)

	reactions, err := r.store.Reactions(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, reactions)
}

func TestMarkAsReadBroadcastsToOthers(t *testing.T) {
	r := newRelay(t, nil)
	alice := r.register(t, "alice", "p1")
	bob := r.register(t, "bob", "p2")
	alice.until("UserOnline")

	alice.send(event{"type": "SendMessage", "to_user_id": bob.id, "content": "read me"})
	delivered, _ := bob.until("NewMessage")
	msgID := delivered.obj("message").str("id")

	bob.send(event{"type": "MarkAsRead", "message_id": msgID})
	bob.send(event{"type": "MarkAsRead", "message_id": msgID})
	receipt, _ := alice.until("MessageRead")
	assert.Equal(t, msgID, receipt.str("message_id"))
	assert.Equal(t, bob.id, receipt.str("user_id"))

	bob.send(event{"type": "GetOnlineUsers"})
	_, skipped := bob.until("OnlineUsers")
	for _, ev := range skipped {
		assert.NotEqual(t, "MessageRead", ev.str("type"))
	}

	unread, err := r.store.UnreadCount(context.Background(), bob.id, alice.id)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestTypingAndCallRelay(t *testing.T) {
	r := newRelay(t, nil)
	alice := r.register(t, "alice", "p1")
	bob := r.register(t, "bob", "p2")
	alice.until("UserOnline")

	alice.send(event{"type": "Typing", "to_user_id": bob.id, "is_typing": true})
	typing, _ := bob.until("Typing")
	assert.Equal(t, alice.id, typing.str("from_user_id"))
	assert.Equal(t, true, typing["is_typing"])

	alice.send(event{"type": "CallOffer", "to_user_id": bob.id, "offer": "sdp-offer"})
	offer, _ := bob.until("CallOffer")
	assert.Equal(t, "sdp-offer", offer.str("offer"))

	bob.send(event{"type": "CallAnswer", "to_user_id": alice.id, "answer": "sdp-answer"})
	answer, _ := alice.until("CallAnswer")
	assert.Equal(t, "sdp-answer", answer.str("answer"))
	assert.Equal(t, bob.id, answer.str("from_user_id"))

	bob.send(event{"type": "IceCandidate", "to_user_id": alice.id, "candidate": "cand"})
	ice, _ := alice.until("IceCandidate")
	assert.Equal(t, "cand", ice.str("candidate"))

	alice.send(event{"type": "CallEnd", "to_user_id": bob.id})
	end, _ := bob.until("CallEnd")
	assert.Equal(t, event{"type": "CallEnd", "from_user_id": alice.id}, end)

	// 对方不在线时静默丢弃
	alice.send(event{"type": "Typing", "to_user_id": "nobody", "is_typing": true})
	alice.send(event{"type": "GetOnlineUsers"})
	users, skipped := alice.until("OnlineUsers")
	assert.Empty(t, skipped)
	assert.Len(t, users.list("users"), 2)
}

func TestHistoryPagination(t *testing.T) {
	r := newRelay(t, nil)
	alice := r.register(t, "alice", "p1")
	const n = 23
	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < n; i++ {
		require.NoError(t, r.store.SaveMessage(context.Background(), &storage.Message{
			ID:         fmt.Sprintf("m%02d", i),
			FromUserID: alice.id,
			ToUserID:   "peer",
			Content:    fmt.Sprint(i),
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	// 每一页内部是正序；页与页之间从新到旧
	var pages [][]string
	for offset := 0; ; offset += 5 {
		alice.send(event{"type": "GetMessageHistory", "other_user_id": "peer", "limit": 5, "offset": offset})
		hist, _ := alice.until("MessageHistory")
		assert.Equal(t, float64(n), hist["total_count"])
		var page []string
		for _, m := range hist.list("messages") {
			page = append(page, m.str("id"))
		}
		pages = append(pages, page)
		if hist["has_more"] != true {
			break
		}
	}

	var all []string
	for i := len(pages) - 1; i >= 0; i-- {
		all = append(all, pages[i]...)
	}
	require.Len(t, all, n)
	for i, id := range all {
		assert.Equal(t, fmt.Sprintf("m%02d", i), id)
	}

	// limit 收敛到 [1, max_history_limit]
	alice.send(event{"type": "GetMessageHistory", "other_user_id": "peer", "limit": 0, "offset": -3})
	hist, _ := alice.until("MessageHistory")
	require.Len(t, hist.list("messages"), 1)
	assert.Equal(t, "m22", hist.list("messages")[0].str("id"))
}

func TestRateLimitDropsExcess(t *testing.T) {
	r := newRelay(t, func(o *chat.Options) {
		o.RateLimit = 0.001
		o.RateBurst = 2
	})
	p := r.dial(t)
	p.send(event{"type": "Login", "username": "erin"})
	p.send(event{"type": "GetOnlineUsers"})
	p.send(event{"type": "GetOnlineUsers"})

	assert.Equal(t, "LoginSuccess", p.next().str("type"))
	assert.Equal(t, "OnlineUsers", p.next().str("type"))
	assert.Equal(t, "OnlineUsers", p.next().str("type"))
	p.silent(300 * time.Millisecond)
}

func TestClampPage(t *testing.T) {
	l, o := handlers.ClampPage(nil, nil, 200)
	assert.Equal(t, 50, l)
	assert.Equal(t, 0, o)

	big, neg := 1000, -1
	l, o = handlers.ClampPage(&big, &neg, 200)
	assert.Equal(t, 200, l)
	assert.Equal(t, 0, o)
}

func TestUpgradeChecksOrigin(t *testing.T) {
	r := newRelay(t, func(o *chat.Options) { o.AllowOrigins = []string{"http://ok.example"} })

	_, resp, err := websocket.DefaultDialer.Dial(r.url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(r.url, http.Header{"Origin": {"http://ok.example"}})
	require.NoError(t, err)
	_ = conn.Close()

	// 非浏览器客户端不带 Origin
	r.dial(t)

	open := newRelay(t, nil)
	conn, _, err = websocket.DefaultDialer.Dial(open.url, http.Header{"Origin": {"http://evil.example"}})
	require.NoError(t, err)
	_ = conn.Close()
}
