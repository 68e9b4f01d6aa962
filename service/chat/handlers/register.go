package handlers

import "PPRelay/service/chat"

// RegisterAll 把所有上行事件的 handler 挂到 server 的 dispatcher 上
func RegisterAll(ctx *chat.Context) {
	d := ctx.S.Disp()
	for _, newHandler := range []func(*chat.Context) chat.Handler{
		NewRegisterHandler,
		NewLoginHandler,
		NewSendMessageHandler,
		NewMarkAsReadHandler,
		NewTypingHandler,
		NewOnlineUsersHandler,
		NewHistoryHandler,
		NewAddReactionHandler,
		NewRemoveReactionHandler,
		NewCallOfferHandler,
		NewCallAnswerHandler,
		NewIceCandidateHandler,
		NewCallEndHandler,
	} {
		d.Register(newHandler(ctx))
	}
}
