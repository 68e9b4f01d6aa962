package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPRelay/service/storage"
)

type entry struct {
	seq int64
	msg storage.Message
}

// Store 进程内实现，单机调试和测试用。
type Store struct {
	mu        sync.RWMutex
	accounts  map[string]*storage.Account // id -> account
	byName    map[string]string           // username -> id
	messages  map[string]*entry
	seq       int64
	reactions map[string]map[string]string // message -> user -> emoji
	now       func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:  make(map[string]*storage.Account),
		byName:    make(map[string]string),
		messages:  make(map[string]*entry),
		reactions: make(map[string]map[string]string),
		now:       time.Now,
	}
}

func (s *Store) CreateAccount(_ context.Context, id, username, passwordHash string) (*storage.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[username]; ok {
		return nil, storage.ErrDuplicateUsername
	}
	now := s.now().UTC()
	a := &storage.Account{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now, LastSeen: now}
	s.accounts[id] = a
	s.byName[username] = id
	cp := *a
	return &cp, nil
}

func (s *Store) AccountByUsername(_ context.Context, username string) (*storage.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[username]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *Store) AccountByID(_ context.Context, id string) (*storage.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]*storage.Account, error) {
	s.mu.RLock()
	out := make([]*storage.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) TouchLastSeen(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.LastSeen = s.now().UTC()
	}
	return nil
}

func (s *Store) SaveMessage(_ context.Context, m *storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return storage.ErrDuplicateMessage
	}
	s.seq++
	s.messages[m.ID] = &entry{seq: s.seq, msg: cloneMessage(m)}
	return nil
}

// newerFirst 时间倒序，同一时间按写入顺序倒序。
func newerFirst(a, b *entry) bool {
	if !a.msg.Timestamp.Equal(b.msg.Timestamp) {
		return a.msg.Timestamp.After(b.msg.Timestamp)
	}
	return a.seq > b.seq
}

func (s *Store) between(a, b string) []*entry {
	var out []*entry
	for _, e := range s.messages {
		if e.msg.Involves(a, b) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i], out[j]) })
	return out
}

func (s *Store) MessagesBetween(_ context.Context, a, b string, limit, offset int) ([]*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.between(a, b)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) || limit <= 0 {
		return []*storage.Message{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]*storage.Message, 0, end-offset)
	for _, e := range all[offset:end] {
		m := cloneMessage(&e.msg)
		out = append(out, &m)
	}
	return out, nil
}

func (s *Store) Conversations(_ context.Context, user string) ([]*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := map[string]*entry{}
	for _, e := range s.messages {
		if e.msg.FromUserID != user && e.msg.ToUserID != user {
			continue
		}
		other := e.msg.Counterpart(user)
		if cur, ok := latest[other]; !ok || newerFirst(e, cur) {
			latest[other] = e
		}
	}
	list := make([]*entry, 0, len(latest))
	for _, e := range latest {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return newerFirst(list[i], list[j]) })
	out := make([]*storage.Message, 0, len(list))
	for _, e := range list {
		m := cloneMessage(&e.msg)
		out = append(out, &m)
	}
	return out, nil
}

func (s *Store) MarkRead(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.messages[messageID]; ok {
		e.msg.Read = true
	}
	return nil
}

func (s *Store) UnreadCount(_ context.Context, to, from string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.messages {
		if e.msg.ToUserID == to && e.msg.FromUserID == from && !e.msg.Read {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountBetween(_ context.Context, a, b string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.messages {
		if e.msg.Involves(a, b) {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpsertReaction(_ context.Context, messageID, userID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reactions[messageID]
	if r == nil {
		r = map[string]string{}
		s.reactions[messageID] = r
	}
	r[userID] = emoji
	return nil
}

func (s *Store) DeleteReaction(_ context.Context, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.reactions[messageID]; r != nil {
		delete(r, userID)
		if len(r) == 0 {
			delete(s.reactions, messageID)
		}
	}
	return nil
}

func (s *Store) Reactions(_ context.Context, messageID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]string{}
	for u, e := range s.reactions[messageID] {
		out[u] = e
	}
	return out, nil
}

func (s *Store) ReactionsBatch(_ context.Context, messageIDs []string) (map[string]map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]map[string]string{}
	for _, id := range messageIDs {
		r := s.reactions[id]
		if len(r) == 0 {
			continue
		}
		cp := make(map[string]string, len(r))
		for u, e := range r {
			cp[u] = e
		}
		out[id] = cp
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

func cloneMessage(m *storage.Message) storage.Message {
	cp := *m
	if m.Attachment != nil {
		a := *m.Attachment
		cp.Attachment = &a
	}
	if m.AudioDuration != nil {
		d := *m.AudioDuration
		cp.AudioDuration = &d
	}
	return cp
}
