package chat

import (
	"time"

	"PPRelay/service/storage"
)

// 事件类型，与 JSON 中的 "type" 字段一一对应
const (
	TypeRegister          = "Register"
	TypeLogin             = "Login"
	TypeSendMessage       = "SendMessage"
	TypeMarkAsRead        = "MarkAsRead"
	TypeTyping            = "Typing"
	TypeGetOnlineUsers    = "GetOnlineUsers"
	TypeGetMessageHistory = "GetMessageHistory"
	TypeAddReaction       = "AddReaction"
	TypeRemoveReaction    = "RemoveReaction"
	TypeCallOffer         = "CallOffer"
	TypeCallAnswer        = "CallAnswer"
	TypeIceCandidate      = "IceCandidate"
	TypeCallEnd           = "CallEnd"

	TypeLoginSuccess    = "LoginSuccess"
	TypeRegisterSuccess = "RegisterSuccess"
	TypeAuthError       = "AuthError"
	TypeUserOnline      = "UserOnline"
	TypeUserOffline     = "UserOffline"
	TypeNewMessage      = "NewMessage"
	TypeMessageHistory  = "MessageHistory"
	TypeMessageRead     = "MessageRead"
	TypeOnlineUsers     = "OnlineUsers"
	TypeError           = "Error"
	TypeSuccess         = "Success"
	TypeMessageReaction = "MessageReaction"
)

// ClientEvent 客户端上行事件
type ClientEvent interface {
	EventType() string
}

type RegisterEvent struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginEvent struct {
	Username string  `json:"username"`
	Password *string `json:"password"`
}

type SendMessageEvent struct {
	ToUserID      string   `json:"to_user_id"`
	Content       string   `json:"content"`
	FileData      *string  `json:"file_data"`
	FileName      *string  `json:"file_name"`
	FileType      *string  `json:"file_type"`
	AudioDuration *float64 `json:"audio_duration"`
}

type MarkAsReadEvent struct {
	MessageID string `json:"message_id"`
}

type TypingEvent struct {
	ToUserID string `json:"to_user_id"`
	IsTyping bool   `json:"is_typing"`
}

type GetOnlineUsersEvent struct{}

type GetMessageHistoryEvent struct {
	OtherUserID string `json:"other_user_id"`
	Limit       *int   `json:"limit"`
	Offset      *int   `json:"offset"`
}

type AddReactionEvent struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type RemoveReactionEvent struct {
	MessageID string `json:"message_id"`
}

type CallOfferEvent struct {
	ToUserID string `json:"to_user_id"`
	Offer    string `json:"offer"`
}

type CallAnswerEvent struct {
	ToUserID string `json:"to_user_id"`
	Answer   string `json:"answer"`
}

type IceCandidateEvent struct {
	ToUserID  string `json:"to_user_id"`
	Candidate string `json:"candidate"`
}

type CallEndEvent struct {
	ToUserID string `json:"to_user_id"`
}

func (*RegisterEvent) EventType() string          { return TypeRegister }
func (*LoginEvent) EventType() string             { return TypeLogin }
func (*SendMessageEvent) EventType() string       { return TypeSendMessage }
func (*MarkAsReadEvent) EventType() string        { return TypeMarkAsRead }
func (*TypingEvent) EventType() string            { return TypeTyping }
func (*GetOnlineUsersEvent) EventType() string    { return TypeGetOnlineUsers }
func (*GetMessageHistoryEvent) EventType() string { return TypeGetMessageHistory }
func (*AddReactionEvent) EventType() string       { return TypeAddReaction }
func (*RemoveReactionEvent) EventType() string    { return TypeRemoveReaction }
func (*CallOfferEvent) EventType() string         { return TypeCallOffer }
func (*CallAnswerEvent) EventType() string        { return TypeCallAnswer }
func (*IceCandidateEvent) EventType() string      { return TypeIceCandidate }
func (*CallEndEvent) EventType() string           { return TypeCallEnd }

// Attachment returns the attachment carried by the event, or nil when no
// file_* field is present.
func (e *SendMessageEvent) Attachment() *storage.Attachment {
	if e.FileData == nil && e.FileName == nil && e.FileType == nil {
		return nil
	}
	return &storage.Attachment{
		Data: deref(e.FileData),
		Name: deref(e.FileName),
		Type: deref(e.FileType),
	}
}

// ---- 下行事件 ----

// ServerEvent 服务端下行事件，序列化后带 "type" 字段
type ServerEvent interface {
	EventType() string
}

type Envelope struct {
	Type string `json:"type"`
}

func (h Envelope) EventType() string { return h.Type }

type User struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

type ChatMessage struct {
	ID            string            `json:"id"`
	FromUserID    string            `json:"from_user_id"`
	ToUserID      string            `json:"to_user_id"`
	Content       string            `json:"content"`
	Timestamp     time.Time         `json:"timestamp"`
	Read          bool              `json:"read"`
	FileData      *string           `json:"file_data,omitempty"`
	FileName      *string           `json:"file_name,omitempty"`
	FileType      *string           `json:"file_type,omitempty"`
	AudioDuration *float64          `json:"audio_duration,omitempty"`
	Reactions     map[string]string `json:"reactions"`
}

type AuthSuccessEvent struct {
	Envelope
	User  User   `json:"user"`
	Token string `json:"token,omitempty"`
}

type MessageEvent struct {
	Envelope
	Message string `json:"message"`
}

type UserOnlineEvent struct {
	Envelope
	User User `json:"user"`
}

type UserOfflineEvent struct {
	Envelope
	UserID string `json:"user_id"`
}

type NewMessageEvent struct {
	Envelope
	Message ChatMessage `json:"message"`
}

type MessageHistoryEvent struct {
	Envelope
	Messages   []ChatMessage `json:"messages"`
	TotalCount int           `json:"total_count"`
	HasMore    bool          `json:"has_more"`
}

type MessageReadEvent struct {
	Envelope
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

type TypingNotice struct {
	Envelope
	FromUserID string `json:"from_user_id"`
	IsTyping   bool   `json:"is_typing"`
}

type OnlineUsersEvent struct {
	Envelope
	Users []User `json:"users"`
}

type MessageReactionEvent struct {
	Envelope
	MessageID string  `json:"message_id"`
	UserID    string  `json:"user_id"`
	Emoji     *string `json:"emoji"`
}

// SignalEvent 音视频信令转发，offer/answer/candidate 按类型只填一个
type SignalEvent struct {
	Envelope
	FromUserID string  `json:"from_user_id"`
	Offer      *string `json:"offer,omitempty"`
	Answer     *string `json:"answer,omitempty"`
	Candidate  *string `json:"candidate,omitempty"`
}

func NewLoginSuccess(u User, token string) *AuthSuccessEvent {
	return &AuthSuccessEvent{Envelope: Envelope{TypeLoginSuccess}, User: u, Token: token}
}

func NewRegisterSuccess(u User, token string) *AuthSuccessEvent {
	return &AuthSuccessEvent{Envelope: Envelope{TypeRegisterSuccess}, User: u, Token: token}
}

func NewAuthError(msg string) *MessageEvent {
	return &MessageEvent{Envelope: Envelope{TypeAuthError}, Message: msg}
}

func NewError(msg string) *MessageEvent {
	return &MessageEvent{Envelope: Envelope{TypeError}, Message: msg}
}

func NewSuccess(msg string) *MessageEvent {
	return &MessageEvent{Envelope: Envelope{TypeSuccess}, Message: msg}
}

func NewUserOnline(u User) *UserOnlineEvent {
	return &UserOnlineEvent{Envelope: Envelope{TypeUserOnline}, User: u}
}

func NewUserOffline(userID string) *UserOfflineEvent {
	return &UserOfflineEvent{Envelope: Envelope{TypeUserOffline}, UserID: userID}
}

func NewNewMessage(m ChatMessage) *NewMessageEvent {
	return &NewMessageEvent{Envelope: Envelope{TypeNewMessage}, Message: m}
}

func NewMessageHistory(msgs []ChatMessage, total int, hasMore bool) *MessageHistoryEvent {
	if msgs == nil {
		msgs = []ChatMessage{}
	}
	return &MessageHistoryEvent{Envelope: Envelope{TypeMessageHistory}, Messages: msgs, TotalCount: total, HasMore: hasMore}
}

func NewMessageRead(messageID, userID string) *MessageReadEvent {
	return &MessageReadEvent{Envelope: Envelope{TypeMessageRead}, MessageID: messageID, UserID: userID}
}

func NewTyping(from string, isTyping bool) *TypingNotice {
	return &TypingNotice{Envelope: Envelope{TypeTyping}, FromUserID: from, IsTyping: isTyping}
}

func NewOnlineUsers(users []User) *OnlineUsersEvent {
	if users == nil {
		users = []User{}
	}
	return &OnlineUsersEvent{Envelope: Envelope{TypeOnlineUsers}, Users: users}
}

// NewMessageReaction 的 emoji 为 nil 表示撤销
func NewMessageReaction(messageID, userID string, emoji *string) *MessageReactionEvent {
	return &MessageReactionEvent{Envelope: Envelope{TypeMessageReaction}, MessageID: messageID, UserID: userID, Emoji: emoji}
}

func NewCallOffer(from, offer string) *SignalEvent {
	return &SignalEvent{Envelope: Envelope{TypeCallOffer}, FromUserID: from, Offer: &offer}
}

func NewCallAnswer(from, answer string) *SignalEvent {
	return &SignalEvent{Envelope: Envelope{TypeCallAnswer}, FromUserID: from, Answer: &answer}
}

func NewIceCandidate(from, candidate string) *SignalEvent {
	return &SignalEvent{Envelope: Envelope{TypeIceCandidate}, FromUserID: from, Candidate: &candidate}
}

func NewCallEnd(from string) *SignalEvent {
	return &SignalEvent{Envelope: Envelope{TypeCallEnd}, FromUserID: from}
}

// ---- 存储模型 <-> 线上格式 ----

func UserFromRecord(r PresenceRecord) User {
	return User{ID: r.UserID, Username: r.Username, Online: r.Online, LastSeen: r.LastSeen.UTC()}
}

func UserFromAccount(a *storage.Account, online bool) User {
	return User{ID: a.ID, Username: a.Username, Online: online, LastSeen: a.LastSeen.UTC()}
}

// MessageFromStore converts a stored message; reactions may be nil.
func MessageFromStore(m *storage.Message, reactions map[string]string) ChatMessage {
	if reactions == nil {
		reactions = map[string]string{}
	}
	out := ChatMessage{
		ID:            m.ID,
		FromUserID:    m.FromUserID,
		ToUserID:      m.ToUserID,
		Content:       m.Content,
		Timestamp:     m.Timestamp.UTC(),
		Read:          m.Read,
		AudioDuration: m.AudioDuration,
		Reactions:     reactions,
	}
	if a := m.Attachment; a != nil {
		out.FileData = optional(a.Data)
		out.FileName = optional(a.Name)
		out.FileType = optional(a.Type)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
