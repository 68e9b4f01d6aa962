package chat

import (
	"context"
	"sync"
)

// Outbox 单个连接的下行队列：FIFO，max<=0 时不限长。
// 多个生产者并发 Push，只有写协程一个消费者 Pop。
type Outbox struct {
	mu     sync.Mutex
	items  []ServerEvent
	max    int
	closed bool
	notify chan struct{}
}

func NewOutbox(max int) *Outbox {
	return &Outbox{max: max, notify: make(chan struct{}, 1)}
}

// Push enqueues ev. It returns false when the outbox is closed or full.
func (o *Outbox) Push(ev ServerEvent) bool {
	o.mu.Lock()
	if o.closed || (o.max > 0 && len(o.items) >= o.max) {
		o.mu.Unlock()
		return false
	}
	o.items = append(o.items, ev)
	o.mu.Unlock()

	o.wake()
	return true
}

// Pop blocks until an event is available. ok is false once the outbox is
// closed or ctx is done; anything still queued at that point is dropped.
func (o *Outbox) Pop(ctx context.Context) (ev ServerEvent, ok bool) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return nil, false
		}
		if len(o.items) > 0 {
			ev = o.items[0]
			o.items[0] = nil
			o.items = o.items[1:]
			o.mu.Unlock()
			return ev, true
		}
		o.mu.Unlock()

		select {
		case <-o.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.items = nil
	o.mu.Unlock()
	o.wake()
}

func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

func (o *Outbox) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}
