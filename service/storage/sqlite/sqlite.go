package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"PPRelay/service/storage"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	created_at TEXT NOT NULL,
	last_seen TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT UNIQUE NOT NULL,
	from_user_id TEXT NOT NULL,
	to_user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	ts_nano INTEGER NOT NULL,
	read INTEGER NOT NULL DEFAULT 0,
	file_data TEXT,
	file_name TEXT,
	file_type TEXT,
	audio_duration REAL
);

CREATE TABLE IF NOT EXISTS reactions (
	message_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	emoji TEXT NOT NULL,
	PRIMARY KEY (message_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_from_user ON messages(from_user_id);
CREATE INDEX IF NOT EXISTS idx_messages_to_user ON messages(to_user_id);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts_nano DESC, seq DESC);
`

const messageColumns = `id, from_user_id, to_user_id, content, ts_nano, read, file_data, file_name, file_type, audio_duration`

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open 打开（必要时创建）数据库文件并初始化表结构。
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "create sqlite dir")
			}
		}
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if path == ":memory:" {
		// 每个连接都是独立的内存库
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init sqlite schema")
	}
	return &Store{db: db}, nil
}

func isUnique(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (*storage.Account, error) {
	var (
		a                   storage.Account
		createdAt, lastSeen string
	)
	if err := r.Scan(&a.ID, &a.Username, &a.PasswordHash, &createdAt, &lastSeen); err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	a.LastSeen = parseTime(lastSeen)
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, id, username, passwordHash string) (*storage.Account, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at, last_seen) VALUES (?, ?, ?, ?, ?)`,
		id, username, passwordHash, formatTime(now), formatTime(now))
	if err != nil {
		if isUnique(err) {
			return nil, storage.ErrDuplicateUsername
		}
		return nil, errors.Wrap(err, "insert user")
	}
	return &storage.Account{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now, LastSeen: now}, nil
}

func (s *Store) accountWhere(ctx context.Context, cond string, arg string) (*storage.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, last_seen FROM users WHERE `+cond+` = ?`, arg)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, password_hash, created_at, last_seen FROM users ORDER BY username`)
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
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_seen = ? WHERE id = ?`, formatTime(time.Now()), id)
	return errors.Wrap(err, "update last_seen")
}

func (s *Store) SaveMessage(ctx context.Context, m *storage.Message) error {
	var fileData, fileName, fileType sql.NullString
	if a := m.Attachment; a != nil {
		fileData = sql.NullString{String: a.Data, Valid: true}
		fileName = sql.NullString{String: a.Name, Valid: true}
		fileType = sql.NullString{String: a.Type, Valid: true}
	}
	var audio sql.NullFloat64
	if m.AudioDuration != nil {
		audio = sql.NullFloat64{Float64: *m.AudioDuration, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, from_user_id, to_user_id, content, timestamp, ts_nano, read, file_data, file_name, file_type, audio_duration)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FromUserID, m.ToUserID, m.Content, formatTime(m.Timestamp), m.Timestamp.UnixNano(), m.Read,
		fileData, fileName, fileType, audio)
	if err != nil {
		if isUnique(err) {
			return storage.ErrDuplicateMessage
		}
		return errors.Wrap(err, "insert message")
	}
	return nil
}

func scanMessage(r rowScanner) (*storage.Message, error) {
	var (
		m                          storage.Message
		tsNano                     int64
		fileData, fileName, fileTy sql.NullString
		audio                      sql.NullFloat64
	)
	if err := r.Scan(&m.ID, &m.FromUserID, &m.ToUserID, &m.Content, &tsNano, &m.Read,
		&fileData, &fileName, &fileTy, &audio); err != nil {
		return nil, err
	}
	m.Timestamp = time.Unix(0, tsNano).UTC()
	if fileData.Valid || fileName.Valid || fileTy.Valid {
		m.Attachment = &storage.Attachment{Data: fileData.String, Name: fileName.String, Type: fileTy.String}
	}
	if audio.Valid {
		d := audio.Float64
		m.AudioDuration = &d
	}
	return &m, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*storage.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
		 WHERE (from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?)
		 ORDER BY ts_nano DESC, seq DESC
		 LIMIT ? OFFSET ?`,
		a, b, b, a, limit, offset)
}

func (s *Store) Conversations(ctx context.Context, user string) ([]*storage.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT m.*, ROW_NUMBER() OVER (
				PARTITION BY CASE WHEN m.from_user_id = ? THEN m.to_user_id ELSE m.from_user_id END
				ORDER BY m.ts_nano DESC, m.seq DESC
			) AS rn
			FROM messages m
			WHERE m.from_user_id = ? OR m.to_user_id = ?
		 ) WHERE rn = 1
		 ORDER BY ts_nano DESC, seq DESC`,
		user, user, user)
}

func (s *Store) MarkRead(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET read = 1 WHERE id = ?`, messageID)
	return errors.Wrap(err, "mark read")
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count messages")
	}
	return n, nil
}

func (s *Store) UnreadCount(ctx context.Context, to, from string) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM messages WHERE to_user_id = ? AND from_user_id = ? AND read = 0`, to, from)
}

func (s *Store) CountBetween(ctx context.Context, a, b string) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM messages WHERE (from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?)`,
		a, b, b, a)
}

func (s *Store) UpsertReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji) VALUES (?, ?, ?)
		 ON CONFLICT(message_id, user_id) DO UPDATE SET emoji = excluded.emoji`,
		messageID, userID, emoji)
	return errors.Wrap(err, "upsert reaction")
}

func (s *Store) DeleteReaction(ctx context.Context, messageID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reactions WHERE message_id = ? AND user_id = ?`, messageID, userID)
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
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, user_id, emoji FROM reactions WHERE message_id IN (`+placeholders+`)`, args...)
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

func (s *Store) Close() error { return s.db.Close() }
