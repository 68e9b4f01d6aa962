package handlers

import (
	"context"

	"PPRelay/service/chat"

	"go.uber.org/zap"
)

// 表情回应：每个 (消息, 用户) 只保留一个，后写覆盖；结果广播给所有在线连接

type AddReactionHandler struct{ ctx *chat.Context }

func NewAddReactionHandler(ctx *chat.Context) chat.Handler { return &AddReactionHandler{ctx: ctx} }
func (h *AddReactionHandler) Type() string                 { return chat.TypeAddReaction }
func (h *AddReactionHandler) RequiresAuth() bool           { return true }

func (h *AddReactionHandler) Handle(ctx context.Context, c *chat.Client, e chat.ClientEvent) error {
	ev := e.(*chat.AddReactionEvent)
	s := h.ctx.S

	sctx, cancel := s.StoreContext(ctx)
	defer cancel()
	if err := s.Store().UpsertReaction(sctx, ev.MessageID, c.UserID(), ev.Emoji); err != nil {
		s.StoreFailed("upsert_reaction", err, zap.String("message_id", ev.MessageID))
	}
	emoji := ev.Emoji
	s.Fanout().Broadcast(chat.NewMessageReaction(ev.MessageID, c.UserID(), &emoji))
	return nil
}

type RemoveReactionHandler struct{ ctx *chat.Context }

func NewRemoveReactionHandler(ctx *chat.Context) chat.Handler {
	return &RemoveReactionHandler{ctx: ctx}
}
func (h *RemoveReactionHandler) Type() string       { return chat.TypeRemoveReaction }
func (h *RemoveReactionHandler) RequiresAuth() bool { return true }

func (h *RemoveReactionHandler) Handle(ctx context.Context, c *chat.Client, e chat.ClientEvent) error {
	ev := e.(*chat.RemoveReactionEvent)
	s := h.ctx.S

	sctx, cancel := s.StoreContext(ctx)
	defer cancel()
	if err := s.Store().DeleteReaction(sctx, ev.MessageID, c.UserID()); err != nil {
		s.StoreFailed("delete_reaction", err, zap.String("message_id", ev.MessageID))
	}
	s.Fanout().Broadcast(chat.NewMessageReaction(ev.MessageID, c.UserID(), nil))
	return nil
}
