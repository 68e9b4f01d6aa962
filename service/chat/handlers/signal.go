package handlers

import (
	"context"

	"PPRelay/service/chat"
)

// SignalHandler 通话信令透传：对方在线就转发，不落库
type SignalHandler struct {
	ctx *chat.Context
	t   string
}

func NewCallOfferHandler(ctx *chat.Context) chat.Handler {
	return &SignalHandler{ctx: ctx, t: chat.TypeCallOffer}
}

func NewCallAnswerHandler(ctx *chat.Context) chat.Handler {
	return &SignalHandler{ctx: ctx, t: chat.TypeCallAnswer}
}

func NewIceCandidateHandler(ctx *chat.Context) chat.Handler {
	return &SignalHandler{ctx: ctx, t: chat.TypeIceCandidate}
}

func NewCallEndHandler(ctx *chat.Context) chat.Handler {
	return &SignalHandler{ctx: ctx, t: chat.TypeCallEnd}
}

func (h *SignalHandler) Type() string       { return h.t }
func (h *SignalHandler) RequiresAuth() bool { return true }

func (h *SignalHandler) Handle(_ context.Context, c *chat.Client, e chat.ClientEvent) error {
	from := c.UserID()
	var (
		to  string
		out chat.ServerEvent
	)
	switch ev := e.(type) {
	case *chat.CallOfferEvent:
		to, out = ev.ToUserID, chat.NewCallOffer(from, ev.Offer)
	case *chat.CallAnswerEvent:
		to, out = ev.ToUserID, chat.NewCallAnswer(from, ev.Answer)
	case *chat.IceCandidateEvent:
		to, out = ev.ToUserID, chat.NewIceCandidate(from, ev.Candidate)
	case *chat.CallEndEvent:
		to, out = ev.ToUserID, chat.NewCallEnd(from)
	default:
		return nil
	}
	h.ctx.S.Fanout().Unicast(to, out)
	return nil
}
