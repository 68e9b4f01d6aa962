package handlers

import (
	"context"

	"PPRelay/service/chat"
	"PPRelay/tools/safe"

	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

type HistoryHandler struct{ ctx *chat.Context }

func NewHistoryHandler(ctx *chat.Context) chat.Handler { return &HistoryHandler{ctx: ctx} }
func (h *HistoryHandler) Type() string                 { return chat.TypeGetMessageHistory }
func (h *HistoryHandler) RequiresAuth() bool           { return true }

// ClampPage 把分页参数收敛到 [1, max] 和 >=0
func ClampPage(limit, offset *int, max int) (int, int) {
	l := safe.DefaultInt(limit, defaultHistoryLimit)
	o := safe.DefaultInt(offset, 0)
	if l < 1 {
		l = 1
	}
	if max > 0 && l > max {
		l = max
	}
	if o < 0 {
		o = 0
	}
	return l, o
}

func (h *HistoryHandler) Handle(ctx context.Context, c *chat.Client, e chat.ClientEvent) error {
	ev := e.(*chat.GetMessageHistoryEvent)
	s := h.ctx.S
	me := c.UserID()
	limit, offset := ClampPage(ev.Limit, ev.Offset, s.Options().MaxHistoryLimit)

	sctx, cancel := s.StoreContext(ctx)
	defer cancel()

	page, err := s.Store().MessagesBetween(sctx, me, ev.OtherUserID, limit, offset)
	if err != nil {
		s.StoreFailed("messages_between", err, zap.String("user_id", me), zap.String("other", ev.OtherUserID))
		s.Fanout().Reply(c, chat.NewError("Failed to load message history"))
		return nil
	}
	total, err := s.Store().CountBetween(sctx, me, ev.OtherUserID)
	if err != nil {
		s.StoreFailed("count_between", err, zap.String("user_id", me))
		total = 0
	}

	msgIDs := make([]string, len(page))
	for i, m := range page {
		msgIDs[i] = m.ID
	}
	reactions, err := s.Store().ReactionsBatch(sctx, msgIDs)
	if err != nil {
		s.StoreFailed("reactions_batch", err, zap.String("user_id", me))
		reactions = nil
	}

	// 存储按时间倒序返回，这里翻转成正序
	out := make([]chat.ChatMessage, len(page))
	for i, m := range page {
		out[len(page)-1-i] = chat.MessageFromStore(m, reactions[m.ID])
	}
	s.Fanout().Reply(c, chat.NewMessageHistory(out, total, offset+limit < total))
	return nil
}
