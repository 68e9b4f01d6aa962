package handlers

import (
	"context"

	"PPRelay/service/chat"
)

type OnlineUsersHandler struct{ ctx *chat.Context }

func NewOnlineUsersHandler(ctx *chat.Context) chat.Handler { return &OnlineUsersHandler{ctx: ctx} }
func (h *OnlineUsersHandler) Type() string                 { return chat.TypeGetOnlineUsers }
func (h *OnlineUsersHandler) RequiresAuth() bool           { return true }

// Handle 只回给请求方，包含自己
func (h *OnlineUsersHandler) Handle(_ context.Context, c *chat.Client, _ chat.ClientEvent) error {
	s := h.ctx.S
	recs := s.Presence().Online()
	users := make([]chat.User, len(recs))
	for i, r := range recs {
		users[i] = chat.UserFromRecord(r)
	}
	s.Fanout().Reply(c, chat.NewOnlineUsers(users))
	return nil
}
