package handlers

import (
	"context"
	"time"

	"PPRelay/logger"
	"PPRelay/service/chat"
	"PPRelay/service/storage"
	"PPRelay/tools/ids"

	"go.uber.org/zap"
)

type SendMessageHandler struct{ ctx *chat.Context }

func NewSendMessageHandler(ctx *chat.Context) chat.Handler { return &SendMessageHandler{ctx: ctx} }
func (h *SendMessageHandler) Type() string                 { return chat.TypeSendMessage }
func (h *SendMessageHandler) RequiresAuth() bool           { return true }

// Handle 先落库，再投递给接收方并回显给发送方；落库失败不影响实时投递
func (h *SendMessageHandler) Handle(ctx context.Context, c *chat.Client, e chat.ClientEvent) error {
	ev := e.(*chat.SendMessageEvent)
	s := h.ctx.S

	msg := &storage.Message{
		ID:            ids.NewUUID(),
		FromUserID:    c.UserID(),
		ToUserID:      ev.ToUserID,
		Content:       ev.Content,
		Timestamp:     time.Now().UTC(),
		Attachment:    ev.Attachment(),
		AudioDuration: ev.AudioDuration,
	}

	sctx, cancel := s.StoreContext(ctx)
	err := s.Store().SaveMessage(sctx, msg)
	cancel()
	saved := err == nil
	if !saved {
		s.StoreFailed("save_message", err, zap.String("message_id", msg.ID))
	}

	out := chat.NewNewMessage(chat.MessageFromStore(msg, nil))
	s.Fanout().Conversation(c, ev.ToUserID, out)

	if saved && s.Sink() != nil {
		h.mirror(ctx, out.Message)
	}
	return nil
}

// mirror 把消息（去掉文件内容）发到下游，key 为单聊会话键
func (h *SendMessageHandler) mirror(ctx context.Context, m chat.ChatMessage) {
	s := h.ctx.S
	m.FileData = nil
	payload, err := chat.EncodeServerEvent(chat.NewNewMessage(m))
	if err != nil {
		logger.Error("[Mirror] encode failed", zap.Error(err))
		return
	}
	pctx, cancel := s.StoreContext(ctx)
	defer cancel()
	if err := s.Sink().Publish(pctx, storage.DMKey(m.FromUserID, m.ToUserID), m.ID, payload); err != nil {
		logger.Warn("[Mirror] publish failed", zap.String("message_id", m.ID), zap.Error(err))
	}
}

type MarkAsReadHandler struct{ ctx *chat.Context }

func NewMarkAsReadHandler(ctx *chat.Context) chat.Handler { return &MarkAsReadHandler{ctx: ctx} }
func (h *MarkAsReadHandler) Type() string                 { return chat.TypeMarkAsRead }
func (h *MarkAsReadHandler) RequiresAuth() bool           { return true }

// Handle 已读回执广播给除自己外的所有连接（不查原发送方）
func (h *MarkAsReadHandler) Handle(ctx context.Context, c *chat.Client, e chat.ClientEvent) error {
	ev := e.(*chat.MarkAsReadEvent)
	s := h.ctx.S

	sctx, cancel := s.StoreContext(ctx)
	defer cancel()
	if err := s.Store().MarkRead(sctx, ev.MessageID); err != nil {
		s.StoreFailed("mark_read", err, zap.String("message_id", ev.MessageID))
	}
	s.Fanout().BroadcastExcept(c.UserID(), chat.NewMessageRead(ev.MessageID, c.UserID()))
	return nil
}

type TypingHandler struct{ ctx *chat.Context }

func NewTypingHandler(ctx *chat.Context) chat.Handler { return &TypingHandler{ctx: ctx} }
func (h *TypingHandler) Type() string                 { return chat.TypeTyping }
func (h *TypingHandler) RequiresAuth() bool           { return true }

func (h *TypingHandler) Handle(_ context.Context, c *chat.Client, e chat.ClientEvent) error {
	ev := e.(*chat.TypingEvent)
	h.ctx.S.Fanout().Unicast(ev.ToUserID, chat.NewTyping(c.UserID(), ev.IsTyping))
	return nil
}
