package chat

import (
	"sort"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map"
)

type PresenceRecord struct {
	UserID   string
	Username string
	Online   bool
	LastSeen time.Time
}

// PresenceRegistry 在线状态表（分片并发 map），进程内有效，重启即重建
type PresenceRegistry struct {
	m cmap.ConcurrentMap
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{m: cmap.New()}
}

func (r *PresenceRegistry) SetOnline(userID, username string, at time.Time) PresenceRecord {
	rec := PresenceRecord{UserID: userID, Username: username, Online: true, LastSeen: at}
	r.m.Set(userID, rec)
	return rec
}

// SetOffline flips an existing record offline. Unknown ids are left absent.
func (r *PresenceRegistry) SetOffline(userID string, at time.Time) (PresenceRecord, bool) {
	var (
		out   PresenceRecord
		found bool
	)
	r.m.Upsert(userID, nil, func(exist bool, inMap interface{}, _ interface{}) interface{} {
		if !exist {
			return nil
		}
		rec := inMap.(PresenceRecord)
		rec.Online = false
		rec.LastSeen = at
		out, found = rec, true
		return rec
	})
	if !found {
		// Upsert 总会写入，这里把占位的 nil 清掉
		r.m.RemoveCb(userID, func(_ string, v interface{}, exists bool) bool {
			return exists && v == nil
		})
	}
	return out, found
}

func (r *PresenceRegistry) Get(userID string) (PresenceRecord, bool) {
	v, ok := r.m.Get(userID)
	if !ok || v == nil {
		return PresenceRecord{}, false
	}
	return v.(PresenceRecord), true
}

func (r *PresenceRegistry) IsOnline(userID string) bool {
	rec, ok := r.Get(userID)
	return ok && rec.Online
}

// Online returns every online record ordered by username.
func (r *PresenceRegistry) Online() []PresenceRecord {
	out := make([]PresenceRecord, 0, r.m.Count())
	for item := range r.m.IterBuffered() {
		rec, ok := item.Val.(PresenceRecord)
		if ok && rec.Online {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (r *PresenceRegistry) OnlineIDs() []string {
	recs := r.Online()
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.UserID
	}
	return ids
}

// SocketDirectory 用户 -> 当前唯一的下行连接
type SocketDirectory struct {
	mu     sync.RWMutex
	byUser map[string]*Client
}

func NewSocketDirectory() *SocketDirectory {
	return &SocketDirectory{byUser: make(map[string]*Client)}
}

// Register installs c for userID and returns the client it replaced, if any.
func (d *SocketDirectory) Register(userID string, c *Client) (prev *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev = d.byUser[userID]
	d.byUser[userID] = c
	if prev == c {
		return nil
	}
	return prev
}

// Unregister removes userID only while it still maps to c.
func (d *SocketDirectory) Unregister(userID string, c *Client) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.byUser[userID]; ok && cur == c {
		delete(d.byUser, userID)
		return true
	}
	return false
}

func (d *SocketDirectory) Lookup(userID string) (*Client, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byUser[userID]
	return c, ok
}

func (d *SocketDirectory) Snapshot() map[string]*Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]*Client, len(d.byUser))
	for k, v := range d.byUser {
		out[k] = v
	}
	return out
}

func (d *SocketDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUser)
}
