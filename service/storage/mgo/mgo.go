package mgo

import (
	"context"
	"time"

	"PPRelay/data/database"
	"PPRelay/data/database/mgo/mongoutil"
	"PPRelay/service/storage"
	"PPRelay/tools/ids"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	client    *mongoutil.Client
	users     *mongo.Collection
	messages  *mongo.Collection
	reactions *mongo.Collection
}

var _ storage.Store = (*Store)(nil)

// Open 连接 mongo 并确保索引存在。
func Open(ctx context.Context, cfg *mongoutil.Config) (*Store, error) {
	cli, err := mongoutil.NewMongoDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	db := cli.GetDB()
	s := &Store{
		client:    cli,
		users:     database.Collection(db, userDoc{}),
		messages:  database.Collection(db, messageDoc{}),
		reactions: database.Collection(db, reactionDoc{}),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errors.Wrap(err, "create users index")
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "from_user_id", Value: 1}, {Key: "to_user_id", Value: 1}, {Key: "ts_nano", Value: -1}, {Key: "seq", Value: -1}}},
		{Keys: bson.D{{Key: "to_user_id", Value: 1}, {Key: "read", Value: 1}}},
	}); err != nil {
		return errors.Wrap(err, "create messages index")
	}
	if _, err := s.reactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "message_id", Value: 1}},
	}); err != nil {
		return errors.Wrap(err, "create reactions index")
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, id, username, passwordHash string) (*storage.Account, error) {
	now := time.Now().UTC()
	doc := userDoc{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now, LastSeen: now}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateUsername
		}
		return nil, errors.Wrap(err, "insert user")
	}
	return doc.account(), nil
}

func (s *Store) findAccount(ctx context.Context, filter bson.M) (*storage.Account, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find user")
	}
	return doc.account(), nil
}

func (s *Store) AccountByUsername(ctx context.Context, username string) (*storage.Account, error) {
	return s.findAccount(ctx, bson.M{"username": username})
}

func (s *Store) AccountByID(ctx context.Context, id string) (*storage.Account, error) {
	return s.findAccount(ctx, bson.M{"_id": id})
}

func (s *Store) ListAccounts(ctx context.Context) ([]*storage.Account, error) {
	cur, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode users")
	}
	out := make([]*storage.Account, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].account())
	}
	return out, nil
}

func (s *Store) TouchLastSeen(ctx context.Context, id string) error {
	_, err := s.users.UpdateByID(ctx, id, bson.M{"$set": bson.M{"last_seen": time.Now().UTC()}})
	return errors.Wrap(err, "update last_seen")
}

func (s *Store) SaveMessage(ctx context.Context, m *storage.Message) error {
	doc := messageDoc{
		ID:            m.ID,
		Seq:           ids.Generate(),
		FromUserID:    m.FromUserID,
		ToUserID:      m.ToUserID,
		Content:       m.Content,
		CreatedAt:     m.Timestamp.UTC(),
		TsNano:        m.Timestamp.UnixNano(),
		Read:          m.Read,
		AudioDuration: m.AudioDuration,
	}
	if a := m.Attachment; a != nil {
		doc.Attachment = &attachmentDoc{Data: a.Data, Name: a.Name, Type: a.Type}
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrDuplicateMessage
		}
		return errors.Wrap(err, "insert message")
	}
	return nil
}

func betweenFilter(a, b string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"from_user_id": a, "to_user_id": b},
		bson.M{"from_user_id": b, "to_user_id": a},
	}}
}

var newestFirst = bson.D{{Key: "ts_nano", Value: -1}, {Key: "seq", Value: -1}}

func decodeMessages(ctx context.Context, cur *mongo.Cursor) ([]*storage.Message, error) {
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	out := make([]*storage.Message, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].message())
	}
	return out, nil
}

func (s *Store) MessagesBetween(ctx context.Context, a, b string, limit, offset int) ([]*storage.Message, error) {
	opts := options.Find().SetSort(newestFirst).SetLimit(int64(limit)).SetSkip(int64(offset))
	cur, err := s.messages.Find(ctx, betweenFilter(a, b), opts)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	return decodeMessages(ctx, cur)
}

func (s *Store) Conversations(ctx context.Context, user string) ([]*storage.Message, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{bson.M{"from_user_id": user}, bson.M{"to_user_id": user}}}}},
		{{Key: "$sort", Value: newestFirst}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$from_user_id", user}}, "$to_user_id", "$from_user_id"}},
			"doc": bson.M{"$first": "$$ROOT"},
		}}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$doc"}}},
		{{Key: "$sort", Value: newestFirst}},
	}
	cur, err := s.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate conversations")
	}
	return decodeMessages(ctx, cur)
}

func (s *Store) MarkRead(ctx context.Context, messageID string) error {
	_, err := s.messages.UpdateByID(ctx, messageID, bson.M{"$set": bson.M{"read": true}})
	return errors.Wrap(err, "mark read")
}

func (s *Store) UnreadCount(ctx context.Context, to, from string) (int, error) {
	n, err := s.messages.CountDocuments(ctx, bson.M{"to_user_id": to, "from_user_id": from, "read": false})
	if err != nil {
		return 0, errors.Wrap(err, "count unread")
	}
	return int(n), nil
}

func (s *Store) CountBetween(ctx context.Context, a, b string) (int, error) {
	n, err := s.messages.CountDocuments(ctx, betweenFilter(a, b))
	if err != nil {
		return 0, errors.Wrap(err, "count messages")
	}
	return int(n), nil
}

func (s *Store) UpsertReaction(ctx context.Context, messageID, userID, emoji string) error {
	key := reactionKey{MessageID: messageID, UserID: userID}
	_, err := s.reactions.ReplaceOne(ctx,
		bson.M{"_id": key},
		reactionDoc{Key: key, MessageID: messageID, UserID: userID, Emoji: emoji},
		options.Replace().SetUpsert(true))
	return errors.Wrap(err, "upsert reaction")
}

func (s *Store) DeleteReaction(ctx context.Context, messageID, userID string) error {
	_, err := s.reactions.DeleteOne(ctx, bson.M{"_id": reactionKey{MessageID: messageID, UserID: userID}})
	return errors.Wrap(err, "delete reaction")
}

func (s *Store) Reactions(ctx context.Context, messageID string) (map[string]string, error) {
	all, err := s.ReactionsBatch(ctx, []string{messageID})
	if err != nil {
		return nil, err
	}
	if r, ok := all[messageID]; ok {
		return r, nil
	}
	return map[string]string{}, nil
}

func (s *Store) ReactionsBatch(ctx context.Context, messageIDs []string) (map[string]map[string]string, error) {
	out := map[string]map[string]string{}
	if len(messageIDs) == 0 {
		return out, nil
	}
	cur, err := s.reactions.Find(ctx, bson.M{"message_id": bson.M{"$in": messageIDs}})
	if err != nil {
		return nil, errors.Wrap(err, "find reactions")
	}
	var docs []reactionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode reactions")
	}
	for _, d := range docs {
		if out[d.MessageID] == nil {
			out[d.MessageID] = map[string]string{}
		}
		out[d.MessageID][d.UserID] = d.Emoji
	}
	return out, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
