package chat

import (
	"PPRelay/tools/decode"
	"PPRelay/tools/errs"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type frameSpec struct {
	newEvent func() ClientEvent
	required []string
}

// frameSpecs 上行事件表：类型 -> 构造器 + 必填字段
var frameSpecs = map[string]frameSpec{
	TypeRegister:          {func() ClientEvent { return &RegisterEvent{} }, []string{"username", "password"}},
	TypeLogin:             {func() ClientEvent { return &LoginEvent{} }, []string{"username"}},
	TypeSendMessage:       {func() ClientEvent { return &SendMessageEvent{} }, []string{"to_user_id", "content"}},
	TypeMarkAsRead:        {func() ClientEvent { return &MarkAsReadEvent{} }, []string{"message_id"}},
	TypeTyping:            {func() ClientEvent { return &TypingEvent{} }, []string{"to_user_id", "is_typing"}},
	TypeGetOnlineUsers:    {func() ClientEvent { return &GetOnlineUsersEvent{} }, nil},
	TypeGetMessageHistory: {func() ClientEvent { return &GetMessageHistoryEvent{} }, []string{"other_user_id"}},
	TypeAddReaction:       {func() ClientEvent { return &AddReactionEvent{} }, []string{"message_id", "emoji"}},
	TypeRemoveReaction:    {func() ClientEvent { return &RemoveReactionEvent{} }, []string{"message_id"}},
	TypeCallOffer:         {func() ClientEvent { return &CallOfferEvent{} }, []string{"to_user_id", "offer"}},
	TypeCallAnswer:        {func() ClientEvent { return &CallAnswerEvent{} }, []string{"to_user_id", "answer"}},
	TypeIceCandidate:      {func() ClientEvent { return &IceCandidateEvent{} }, []string{"to_user_id", "candidate"}},
	TypeCallEnd:           {func() ClientEvent { return &CallEndEvent{} }, []string{"to_user_id"}},
}

// DecodeClientEvent parses one inbound text frame. Every failure is a
// Validation CodeError; callers drop the frame.
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.ErrValidation.WrapMsg("invalid json", "err", err)
	}
	t, err := decode.ReadString(raw, "type")
	if err != nil {
		return nil, errs.ErrValidation.WrapMsg(err.Error())
	}
	spec, ok := frameSpecs[t]
	if !ok {
		return nil, errs.ErrValidation.WrapMsg("unknown event type", "type", t)
	}
	for _, k := range spec.required {
		if v, ok := raw[k]; !ok || v == nil {
			return nil, errs.ErrValidation.WrapMsg("missing field", "type", t, "field", k)
		}
	}
	delete(raw, "type")

	ev := spec.newEvent()
	if err := decode.Into(raw, ev); err != nil {
		return nil, errs.ErrValidation.WrapMsg("bad field", "type", t, "err", err)
	}
	return ev, nil
}

func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, errs.WrapMsg(err, "encode server event", "type", ev.EventType())
	}
	return b, nil
}
