package postgres

import (
	"context"
	"time"

	"PPRelay/service/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT UNIQUE NOT NULL,
	from_user_id TEXT NOT NULL,
	to_user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	read BOOLEAN NOT NULL DEFAULT FALSE,
	file_data TEXT,
	file_name TEXT,
	file_type TEXT,
	audio_duration DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS reactions (
	message_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	emoji TEXT NOT NULL,
	PRIMARY KEY (message_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_from_user ON messages(from_user_id);
CREATE INDEX IF NOT EXISTS idx_messages_to_user ON messages(to_user_id);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at DESC, seq DESC);
`

const messageColumns = `id, from_user_id, to_user_id, content, created_at, read, file_data, file_name, file_type, audio_duration`

type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "init postgres schema")
	}
	return &Store{pool: pool}, nil
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) CreateAccount(ctx context.Context, id, username, passwordHash string) (*storage.Account, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, created_at, last_seen) VALUES ($1, $2, $3, $4, $4)`,
		id, username, passwordHash, now)
	if err != nil {
		if isUnique(err) {
			return nil, storage.ErrDuplicateUsername
		}
		return nil, errors.Wrap(err, "insert user")
	}
	return &storage.Account{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now, LastSeen: now}, nil
}

func scanAccount(row pgx.Row) (*storage.Account, error) {
	var a storage.Account
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt, &a.LastSeen); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.LastSeen = a.LastSeen.UTC()
	return &a, nil
}

func (s *Store) accountWhere(ctx context.Context, cond, arg string) (*storage.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at, last_seen FROM users WHERE `+cond+` = $1`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user")
	}
	return a, nil
}

func (s *Store) AccountByUsername(ctx context.Context, username string) (*storage.Account, error) {
	return s.accountWhere(ctx, "username", username)
}

func (s *Store) AccountByID(ctx context.Context, id string) (*storage.Account, error) {
	return s.accountWhere(ctx, "id", id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]*storage.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, username, password_hash, created_at, last_seen FROM users ORDER BY username`)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	defer rows.Close()
	var out []*storage.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "list users")
}

func (s *Store) TouchLastSeen(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET last_seen = $1 WHERE id = $2`, time.Now().UTC(), id)
	return errors.Wrap(err, "update last_seen")
}

func (s *Store) SaveMessage(ctx context.Context, m *storage.Message) error {
	var fileData, fileName, fileType *string
	if a := m.Attachment; a != nil {
		fileData, fileName, fileType = &a.Data, &a.Name, &a.Type
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.FromUserID, m.ToUserID, m.Content, m.Timestamp.UTC(), m.Read,
		fileData, fileName, fileType, m.AudioDuration)
	if err != nil {
		if isUnique(err) {
			return storage.ErrDuplicateMessage
		}
		return errors.Wrap(err, "insert message")
	}
	return nil
}

func scanMessage(row pgx.Row) (*storage.Message, error) {
	var (
		m                            storage.Message
		fileData, fileName, fileType *string
	)
	if err := row.Scan(&m.ID, &m.FromUserID, &m.ToUserID, &m.Content, &m.Timestamp, &m.Read,
		&fileData, &fileName, &fileType, &m.AudioDuration); err != nil {
		return nil, err
	}
	m.Timestamp = m.Timestamp.UTC()
	if fileData != nil || fileName != nil || fileType != nil {
		a := &storage.Attachment{}
		if fileData != nil {
			a.Data = *fileData
		}
		if fileName != nil {
			a.Name = *fileName
		}
		if fileType != nil {
			a.Type = *fileType
		}
		m.Attachment = a
	}
	return &m, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*storage.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()
	out := []*storage.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "query messages")
}

func (s *Store) MessagesBetween(ctx context.Context, a, b string, limit, offset int) ([]*storage.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE (from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1)
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $3 OFFSET $4`,
		a, b, limit, offset)
}

func (s *Store) Conversations(ctx context.Context, user string) ([]*storage.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT DISTINCT ON (CASE WHEN from_user_id = $1 THEN to_user_id ELSE from_user_id END) *
			FROM messages
			WHERE from_user_id = $1 OR to_user_id = $1
			ORDER BY CASE WHEN from_user_id = $1 THEN to_user_id ELSE from_user_id END, created_at DESC, seq DESC
		 ) latest
		 ORDER BY created_at DESC, seq DESC`,
		user)
}

func (s *Store) MarkRead(ctx context.Context, messageID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE messages SET read = TRUE WHERE id = $1`, messageID)
	return errors.Wrap(err, "mark read")
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count messages")
	}
	return int(n), nil
}

func (s *Store) UnreadCount(ctx context.Context, to, from string) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM messages WHERE to_user_id = $1 AND from_user_id = $2 AND NOT read`, to, from)
}

func (s *Store) CountBetween(ctx context.Context, a, b string) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM messages WHERE (from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1)`,
		a, b)
}

func (s *Store) UpsertReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji`,
		messageID, userID, emoji)
	return errors.Wrap(err, "upsert reaction")
}

func (s *Store) DeleteReaction(ctx context.Context, messageID, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM reactions WHERE message_id = $1 AND user_id = $2`, messageID, userID)
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
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, user_id, emoji FROM reactions WHERE message_id = ANY($1)`, messageIDs)
	if err != nil {
		return nil, errors.Wrap(err, "select reactions")
	}
	defer rows.Close()
	for rows.Next() {
		var mid, uid, emoji string
		if err := rows.Scan(&mid, &uid, &emoji); err != nil {
			return nil, errors.Wrap(err, "scan reaction")
		}
		if out[mid] == nil {
			out[mid] = map[string]string{}
		}
		out[mid][uid] = emoji
	}
	return out, errors.Wrap(rows.Err(), "select reactions")
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
