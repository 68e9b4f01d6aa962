package mgo

import (
	"time"

	"PPRelay/service/storage"
)

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
	LastSeen     time.Time `bson:"last_seen"`
}

func (userDoc) GetTableName() string { return "users" }

func (d *userDoc) account() *storage.Account {
	return &storage.Account{
		ID:           d.ID,
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt.UTC(),
		LastSeen:     d.LastSeen.UTC(),
	}
}

type attachmentDoc struct {
	Data string `bson:"data"`
	Name string `bson:"name"`
	Type string `bson:"type"`
}

// messageDoc mongo 的 Date 只有毫秒精度，排序用 ts_nano + seq。
type messageDoc struct {
	ID            string         `bson:"_id"`
	Seq           int64          `bson:"seq"`
	FromUserID    string         `bson:"from_user_id"`
	ToUserID      string         `bson:"to_user_id"`
	Content       string         `bson:"content"`
	CreatedAt     time.Time      `bson:"created_at"`
	TsNano        int64          `bson:"ts_nano"`
	Read          bool           `bson:"read"`
	Attachment    *attachmentDoc `bson:"attachment,omitempty"`
	AudioDuration *float64       `bson:"audio_duration,omitempty"`
}

func (messageDoc) GetTableName() string { return "messages" }

func (d *messageDoc) message() *storage.Message {
	m := &storage.Message{
		ID:            d.ID,
		FromUserID:    d.FromUserID,
		ToUserID:      d.ToUserID,
		Content:       d.Content,
		Timestamp:     time.Unix(0, d.TsNano).UTC(),
		Read:          d.Read,
		AudioDuration: d.AudioDuration,
	}
	if d.Attachment != nil {
		m.Attachment = &storage.Attachment{Data: d.Attachment.Data, Name: d.Attachment.Name, Type: d.Attachment.Type}
	}
	return m
}

type reactionKey struct {
	MessageID string `bson:"message_id"`
	UserID    string `bson:"user_id"`
}

type reactionDoc struct {
	Key       reactionKey `bson:"_id"`
	MessageID string      `bson:"message_id"`
	UserID    string      `bson:"user_id"`
	Emoji     string      `bson:"emoji"`
}

func (reactionDoc) GetTableName() string { return "reactions" }
