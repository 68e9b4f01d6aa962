package chat

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"PPRelay/service/storage"
	"PPRelay/service/storage/memstore"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (m *fakeMirror) SetOnline(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = append(m.online, id)
	return nil
}

func (m *fakeMirror) SetOffline(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, id)
	return nil
}

type staticTokens struct{}

func (staticTokens) Issue(userID string) (string, error) { return "tok-" + userID, nil }

func newTestServer(t *testing.T) (*Server, storage.Store, *fakeMirror) {
	t.Helper()
	st := memstore.New()
	mirror := &fakeMirror{}
	s := NewServer(DefaultOptions(), Deps{
		Store:   st,
		Tokens:  staticTokens{},
		Mirror:  mirror,
		Metrics: NewMetrics(prometheus.NewRegistry()),
	})
	return s, st, mirror
}

func drain(c *Client) []ServerEvent {
	var out []ServerEvent
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	for {
		ev, ok := c.Outbox().Pop(ctx)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func types(evs []ServerEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.EventType()
	}
	return out
}

func authSuccess(u User, token string) ServerEvent { return NewLoginSuccess(u, token) }

func login(t *testing.T, s *Server, st storage.Store, c *Client, id, name string) {
	t.Helper()
	acc, err := st.AccountByID(context.Background(), id)
	if errors.Is(err, storage.ErrNotFound) {
		acc, err = st.CreateAccount(context.Background(), id, name, "x")
	}
	require.NoError(t, err)
	require.True(t, s.Authenticate(context.Background(), c, acc, authSuccess))
}

func TestAuthenticateSequence(t *testing.T) {
	s, st, mirror := newTestServer(t)
	alice := NewClient("1", 0)
	bob := NewClient("2", 0)

	login(t, s, st, alice, "u1", "alice")
	evs := drain(alice)
	assert.Equal(t, []string{TypeLoginSuccess, TypeOnlineUsers}, types(evs))
	success := evs[0].(*AuthSuccessEvent)
	assert.Equal(t, "tok-u1", success.Token)
	assert.True(t, success.User.Online)
	assert.Empty(t, evs[1].(*OnlineUsersEvent).Users)

	login(t, s, st, bob, "u2", "bob")
	evs = drain(bob)
	require.Len(t, evs, 2)
	others := evs[1].(*OnlineUsersEvent).Users
	require.Len(t, others, 1)
	assert.Equal(t, "alice", others[0].Username)

	evs = drain(alice)
	require.Equal(t, []string{TypeUserOnline}, types(evs))
	assert.Equal(t, "bob", evs[0].(*UserOnlineEvent).User.Username)

	// 认证是单向的
	acc, _ := st.AccountByID(context.Background(), "u2")
	assert.False(t, s.Authenticate(context.Background(), alice, acc, authSuccess))
	assert.Equal(t, "u1", alice.UserID())

	assert.Equal(t, []string{"u1", "u2"}, mirror.online)
}

func TestDisconnectBroadcastsOfflineOnce(t *testing.T) {
	s, st, mirror := newTestServer(t)
	alice := NewClient("1", 0)
	bob := NewClient("2", 0)
	login(t, s, st, alice, "u1", "alice")
	login(t, s, st, bob, "u2", "bob")
	drain(alice)
	drain(bob)

	s.Disconnect(bob)
	s.Disconnect(bob)

	evs := drain(alice)
	require.Equal(t, []string{TypeUserOffline}, types(evs))
	assert.Equal(t, "u2", evs[0].(*UserOfflineEvent).UserID)

	rec, ok := s.Presence().Get("u2")
	require.True(t, ok)
	assert.False(t, rec.Online)
	_, ok = s.Sockets().Lookup("u2")
	assert.False(t, ok)
	assert.Equal(t, []string{"u2"}, mirror.offline)

	acc, err := st.AccountByID(context.Background(), "u2")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), acc.LastSeen, 5*time.Second)
}

func TestSupersededSessionDisconnect(t *testing.T) {
	s, st, mirror := newTestServer(t)
	old := NewClient("1", 0)
	fresh := NewClient("2", 0)
	watcher := NewClient("3", 0)

	login(t, s, st, watcher, "w", "watcher")
	login(t, s, st, old, "u1", "alice")
	login(t, s, st, fresh, "u1", "alice")
	drain(watcher)

	got, ok := s.Sockets().Lookup("u1")
	require.True(t, ok)
	assert.Same(t, fresh, got)

	s.Disconnect(old)
	assert.Empty(t, drain(watcher))
	assert.True(t, s.Presence().IsOnline("u1"))
	got, _ = s.Sockets().Lookup("u1")
	assert.Same(t, fresh, got)
	assert.Empty(t, mirror.offline)

	s.Disconnect(fresh)
	assert.Equal(t, []string{TypeUserOffline}, types(drain(watcher)))
}

func TestDisconnectUnauthenticatedIsNoop(t *testing.T) {
	s, st, _ := newTestServer(t)
	watcher := NewClient("1", 0)
	login(t, s, st, watcher, "w", "watcher")
	drain(watcher)

	s.Disconnect(NewClient("2", 0))
	assert.Empty(t, drain(watcher))
}

type fixedHandler struct {
	calls int
}

func (h *fixedHandler) Type() string       { return TypeTyping }
func (h *fixedHandler) RequiresAuth() bool { return true }
func (h *fixedHandler) Handle(context.Context, *Client, ClientEvent) error {
	h.calls++
	return nil
}

type panicHandler struct{}

func (panicHandler) Type() string       { return TypeGetOnlineUsers }
func (panicHandler) RequiresAuth() bool { return false }
func (panicHandler) Handle(context.Context, *Client, ClientEvent) error {
	panic("boom")
}

func TestHandleEventAuthGate(t *testing.T) {
	s, st, _ := newTestServer(t)
	h := &fixedHandler{}
	s.Disp().Register(h)
	s.Disp().Register(panicHandler{})

	c := NewClient("1", 0)
	err := s.Disp().Dispatch(context.Background(), c, &TypingEvent{ToUserID: "x"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	s.HandleEvent(context.Background(), c, &TypingEvent{ToUserID: "x"})
	assert.Equal(t, 0, h.calls)
	assert.Empty(t, drain(c))

	s.opts.RejectUnauthenticated = true
	s.HandleEvent(context.Background(), c, &TypingEvent{ToUserID: "x"})
	evs := drain(c)
	require.Len(t, evs, 1)
	assert.Equal(t, "Not authenticated", evs[0].(*MessageEvent).Message)

	login(t, s, st, c, "u1", "alice")
	s.HandleEvent(context.Background(), c, &TypingEvent{ToUserID: "x"})
	assert.Equal(t, 1, h.calls)

	assert.NotPanics(t, func() {
		s.HandleEvent(context.Background(), c, &GetOnlineUsersEvent{})
	})

	// 没有注册 handler 的类型直接忽略
	s.HandleEvent(context.Background(), c, &CallEndEvent{ToUserID: "x"})
	err = s.Disp().Dispatch(context.Background(), c, &CallEndEvent{})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestShutdownWithoutSessions(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Error(t, s.BaseContext().Err())
}

// brokenTransport 读出预置帧，写总是失败
type brokenTransport struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes int
}

func newBrokenTransport(frames ...string) *brokenTransport {
	tr := &brokenTransport{frames: make(chan []byte, len(frames)), closed: make(chan struct{})}
	for _, f := range frames {
		tr.frames <- []byte(f)
	}
	return tr
}

func (tr *brokenTransport) ReadMessage() (int, []byte, error) {
	select {
	case f := <-tr.frames:
		return websocket.TextMessage, f, nil
	case <-tr.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (tr *brokenTransport) WriteMessage(int, []byte) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.writes++
	return errors.New("broken pipe")
}

func (tr *brokenTransport) WriteControl(int, []byte, time.Time) error { return nil }
func (tr *brokenTransport) SetWriteDeadline(time.Time) error          { return nil }

func (tr *brokenTransport) Close() error {
	tr.closeOnce.Do(func() { close(tr.closed) })
	return nil
}

func (tr *brokenTransport) writeCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.writes
}

// usernameLogin 只按用户名登录，不校验密码
type usernameLogin struct{ s *Server }

func (usernameLogin) Type() string       { return TypeLogin }
func (usernameLogin) RequiresAuth() bool { return false }
func (h usernameLogin) Handle(ctx context.Context, c *Client, ev ClientEvent) error {
	acc, err := h.s.Store().AccountByUsername(ctx, ev.(*LoginEvent).Username)
	if err != nil {
		return err
	}
	h.s.Authenticate(ctx, c, acc, authSuccess)
	return nil
}

func TestServeWriterFailureDisconnects(t *testing.T) {
	s, st, _ := newTestServer(t)
	s.Disp().Register(usernameLogin{s: s})
	alice, err := st.CreateAccount(context.Background(), "u1", "alice", "x")
	require.NoError(t, err)

	bob := NewClient("2", 0)
	login(t, s, st, bob, "u2", "bob")
	drain(bob)

	tr := newBrokenTransport(`{"type":"Login","username":"alice"}`)
	done := make(chan struct{})
	go func() {
		s.Serve(tr)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after write failure")
	}

	_, ok := s.Sockets().Lookup(alice.ID)
	assert.False(t, ok)
	assert.False(t, s.Presence().IsOnline(alice.ID))
	assert.Equal(t, []string{TypeUserOnline, TypeUserOffline}, types(drain(bob)))
	assert.Equal(t, 1, tr.writeCount())
	assert.Equal(t, 0, s.ActiveSessions())
	select {
	case <-tr.closed:
	default:
		t.Fatal("transport not closed")
	}
}

func TestReconnectRacingDisconnectStaysOnline(t *testing.T) {
	s, st, _ := newTestServer(t)
	prev := NewClient("c0", 0)
	login(t, s, st, prev, "u1", "alice")
	acc, err := st.AccountByID(context.Background(), "u1")
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		next := NewClient("c"+strconv.Itoa(i+1), 0)
		var wg sync.WaitGroup
		wg.Add(2)
		go func(old *Client) {
			defer wg.Done()
			s.Disconnect(old)
		}(prev)
		go func() {
			defer wg.Done()
			s.Authenticate(context.Background(), next, acc, authSuccess)
		}()
		wg.Wait()

		cur, ok := s.Sockets().Lookup("u1")
		require.True(t, ok)
		require.Same(t, next, cur)
		require.True(t, s.Presence().IsOnline("u1"), "iteration %d", i)
		prev = next
	}
}
