package chat

// Fanout 下行投递。所有发送都是非阻塞的：队列满或已关闭只计数，不报错。
type Fanout struct {
	dir     *SocketDirectory
	metrics *Metrics
}

func NewFanout(dir *SocketDirectory, m *Metrics) *Fanout {
	return &Fanout{dir: dir, metrics: m}
}

func (f *Fanout) deliver(c *Client, ev ServerEvent) bool {
	if c.Send(ev) {
		return true
	}
	f.metrics.Dropped(ev.EventType())
	return false
}

// Reply sends ev to the calling session itself.
func (f *Fanout) Reply(c *Client, ev ServerEvent) bool {
	return f.deliver(c, ev)
}

// Unicast delivers to userID's registered client; no-op when absent.
func (f *Fanout) Unicast(userID string, ev ServerEvent) bool {
	c, ok := f.dir.Lookup(userID)
	if !ok {
		return false
	}
	return f.deliver(c, ev)
}

// Conversation delivers to the recipient (if registered) and echoes to the
// sender. A message to oneself is delivered once.
func (f *Fanout) Conversation(from *Client, to string, ev ServerEvent) {
	if to != from.UserID() {
		f.Unicast(to, ev)
	}
	f.deliver(from, ev)
}

// Broadcast delivers to every registered client and returns how many accepted.
func (f *Fanout) Broadcast(ev ServerEvent) int {
	return f.BroadcastExcept("", ev)
}

func (f *Fanout) BroadcastExcept(userID string, ev ServerEvent) int {
	n := 0
	for id, c := range f.dir.Snapshot() {
		if userID != "" && id == userID {
			continue
		}
		if f.deliver(c, ev) {
			n++
		}
	}
	return n
}
