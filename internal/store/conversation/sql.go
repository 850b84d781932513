package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/z-chat/backend/internal/apperr"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// Dialect selects the SQL flavour and driver of a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
    session_id    TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    title         TEXT NOT NULL,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    total_tokens  INTEGER NOT NULL DEFAULT 0,
    message_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, updated_at);
CREATE TABLE IF NOT EXISTS chat_messages (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    session_id  TEXT NOT NULL,
    role        TEXT NOT NULL,
    content     TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    tokens      INTEGER NOT NULL DEFAULT 0,
    model       TEXT NOT NULL DEFAULT '',
    is_complete INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, seq);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
    session_id    TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    title         TEXT NOT NULL,
    created_at    BIGINT NOT NULL,
    updated_at    BIGINT NOT NULL,
    total_tokens  BIGINT NOT NULL DEFAULT 0,
    message_count BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, updated_at);
CREATE TABLE IF NOT EXISTS chat_messages (
    seq         BIGSERIAL PRIMARY KEY,
    id          TEXT NOT NULL UNIQUE,
    session_id  TEXT NOT NULL,
    role        TEXT NOT NULL,
    content     TEXT NOT NULL,
    timestamp   BIGINT NOT NULL,
    tokens      BIGINT NOT NULL DEFAULT 0,
    model       TEXT NOT NULL DEFAULT '',
    is_complete INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, seq);
`

const (
	sessionColumns = `session_id, user_id, title, created_at, updated_at, total_tokens, message_count`
	messageColumns = `id, session_id, role, content, timestamp, tokens, model, is_complete`
)

// SQLStore persists conversations through database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQLite opens (or creates) a sqlite database at path and ensures the schema exists.
func OpenSQLite(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open(string(DialectSQLite), dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	return NewSQLStore(context.Background(), db, DialectSQLite)
}

// OpenPostgres connects to the database described by dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open(string(DialectPostgres), dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewSQLStore(ctx, db, DialectPostgres)
}

// NewSQLStore wraps an open handle and migrates the schema. The store owns db afterwards.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	schema := sqliteSchema
	switch dialect {
	case DialectSQLite:
	case DialectPostgres:
		schema = postgresSchema
	default:
		db.Close()
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLStore{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// rebind rewrites ? placeholders into $n for postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, rebind(s.dialect, query), args...)
}

func (s *SQLStore) CreateSession(ctx context.Context, userID string) (chat.Session, error) {
	now := s.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    normalizeUser(userID),
		Title:     chat.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO chat_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, 0, 0)`,
		session.ID, session.UserID, session.Title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return chat.Session{}, apperr.Storage("create session", err)
	}
	return session, nil
}

func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.loadSession(ctx, s.db, sessionID)
}

func (s *SQLStore) loadSession(ctx context.Context, q queryer, sessionID string) (chat.Session, error) {
	row := q.QueryRowContext(ctx, rebind(s.dialect, `
		SELECT `+sessionColumns+` FROM chat_sessions WHERE session_id = ?`), sessionID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, apperr.Storage("load session", err)
	}
	return session, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, userID string) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE user_id = ? ORDER BY updated_at DESC, created_at DESC`), normalizeUser(userID))
	if err != nil {
		return nil, apperr.Storage("list sessions", err)
	}
	defer rows.Close()

	sessions := []chat.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Storage("list sessions", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list sessions", err)
	}
	return sessions, nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, sessionID string, draft chat.Draft) (chat.Message, error) {
	if err := validateDraft(draft); err != nil {
		return chat.Message{}, err
	}

	var msg chat.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = s.insertMessage(ctx, tx, sessionID, draft)
		return err
	})
	return msg, err
}

func (s *SQLStore) RecordAssistantTurn(ctx context.Context, sessionID string, draft chat.Draft, firstUserMessage string) (chat.Message, error) {
	draft = assistantDraft(draft)
	if err := validateDraft(draft); err != nil {
		return chat.Message{}, err
	}

	var msg chat.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = s.insertMessage(ctx, tx, sessionID, draft)
		if err != nil {
			return err
		}

		if draft.Tokens > 0 {
			if _, err := s.exec(ctx, tx, `
				UPDATE chat_sessions SET total_tokens = total_tokens + ? WHERE session_id = ?`,
				draft.Tokens, sessionID); err != nil {
				return apperr.Storage("update token total", err)
			}
		}

		if firstUserMessage != "" {
			if _, err := s.exec(ctx, tx, `
				UPDATE chat_sessions SET title = ? WHERE session_id = ? AND title = ?`,
				chat.DeriveTitle(firstUserMessage), sessionID, chat.DefaultTitle); err != nil {
				return apperr.Storage("update title", err)
			}
		}
		return nil
	})
	return msg, err
}

// insertMessage checks the session, inserts the message and bumps the counters inside tx.
func (s *SQLStore) insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, draft chat.Draft) (chat.Message, error) {
	if _, err := s.loadSession(ctx, tx, sessionID); err != nil {
		return chat.Message{}, err
	}

	now := s.now()
	msg := chat.Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       draft.Role,
		Content:    draft.Content,
		Timestamp:  now,
		Tokens:     draft.Tokens,
		Model:      draft.Model,
		IsComplete: true,
	}

	if _, err := s.exec(ctx, tx, `
		INSERT INTO chat_messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, now.UnixNano(), msg.Tokens, msg.Model); err != nil {
		return chat.Message{}, apperr.Storage("insert message", err)
	}

	if _, err := s.exec(ctx, tx, `
		UPDATE chat_sessions SET message_count = message_count + 1, updated_at = ? WHERE session_id = ?`,
		now.UnixNano(), sessionID); err != nil {
		return chat.Message{}, apperr.Storage("update session counters", err)
	}
	return msg, nil
}

func (s *SQLStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, `
		SELECT `+messageColumns+` FROM chat_messages WHERE session_id = ? ORDER BY seq ASC`), sessionID)
	if err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Storage("list messages", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	return messages, nil
}

func (s *SQLStore) LastMessage(ctx context.Context, sessionID string, role chat.Role) (chat.Message, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.dialect, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE session_id = ? AND role = ? ORDER BY seq DESC LIMIT 1`), sessionID, string(role))

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return chat.Message{}, apperr.Storage("load message", err)
	}
	return msg, nil
}

func (s *SQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
			return apperr.Storage("delete messages", err)
		}
		res, err := s.exec(ctx, tx, `DELETE FROM chat_sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return apperr.Storage("delete session", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			// Orphaned messages are still removed.
			return errSessionGone
		}
		return nil
	})
}

// errSessionGone commits the transaction but reports ErrSessionNotFound.
var errSessionGone = errors.New("session gone")

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin transaction", err)
	}

	if err := fn(tx); err != nil {
		if errors.Is(err, errSessionGone) {
			if cerr := tx.Commit(); cerr != nil {
				return apperr.Storage("commit", cerr)
			}
			return ErrSessionNotFound
		}
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Storage("commit", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (chat.Session, error) {
	var (
		session              chat.Session
		createdAt, updatedAt int64
	)
	if err := row.Scan(&session.ID, &session.UserID, &session.Title, &createdAt, &updatedAt,
		&session.TotalTokens, &session.MessageCount); err != nil {
		return chat.Session{}, err
	}
	session.CreatedAt = time.Unix(0, createdAt).UTC()
	session.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return session, nil
}

func scanMessage(row scanner) (chat.Message, error) {
	var (
		msg        chat.Message
		role       string
		timestamp  int64
		isComplete int
	)
	if err := row.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &timestamp,
		&msg.Tokens, &msg.Model, &isComplete); err != nil {
		return chat.Message{}, err
	}
	msg.Role = chat.Role(role)
	msg.Timestamp = time.Unix(0, timestamp).UTC()
	msg.IsComplete = isComplete != 0
	return msg, nil
}
