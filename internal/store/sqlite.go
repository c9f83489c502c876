package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zhouzirui/abby/backend/internal/model/activity"
	"github.com/zhouzirui/abby/backend/internal/model/chat"
	"github.com/zhouzirui/abby/backend/internal/model/user"
	_ "modernc.org/sqlite"
)

// SQLite implements Remote on a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT,
		email TEXT,
		photo_url TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, timestamp);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp);

	CREATE TABLE IF NOT EXISTS emotion_checkins (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		values_json TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkins_user ON emotion_checkins(user_id, timestamp);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

const upsertSessionQuery = `
	INSERT INTO sessions (id, user_id, date, timestamp)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		date = excluded.date,
		timestamp = excluded.timestamp`

const upsertMessageQuery = `
	INSERT INTO messages (id, session_id, role, content, timestamp)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		role = excluded.role,
		content = excluded.content,
		timestamp = excluded.timestamp`

func (s *SQLite) UpsertSession(ctx context.Context, userID string, session chat.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertSessionQuery, session.ID, userID, session.Date, session.Timestamp); err != nil {
		return fmt.Errorf("upsert session %s: %w", session.ID, err)
	}
	for _, m := range session.Messages {
		if _, err := tx.ExecContext(ctx, upsertMessageQuery, m.ID, session.ID, string(m.Role), m.Content, m.Timestamp); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SQLite) UpsertMessage(ctx context.Context, sessionID string, msg chat.Message) error {
	if _, err := s.db.ExecContext(ctx, upsertMessageQuery, msg.ID, sessionID, string(msg.Role), msg.Content, msg.Timestamp); err != nil {
		return fmt.Errorf("upsert message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *SQLite) LoadSessions(ctx context.Context, userID string) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, timestamp FROM sessions
		WHERE user_id = ?
		ORDER BY timestamp DESC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	var sessions []chat.Session
	index := make(map[string]int)
	for rows.Next() {
		var sess chat.Session
		if err := rows.Scan(&sess.ID, &sess.Date, &sess.Timestamp); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.Messages = []chat.Message{}
		index[sess.ID] = len(sessions)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	rows.Close()

	if len(sessions) == 0 {
		return []chat.Session{}, nil
	}

	msgRows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.session_id, m.role, m.content, m.timestamp
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE s.user_id = ?
		ORDER BY m.timestamp ASC, m.rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var (
			m         chat.Message
			sessionID string
			role      string
		)
		if err := msgRows.Scan(&m.ID, &sessionID, &role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = chat.Role(role)
		if i, ok := index[sessionID]; ok {
			sessions[i].Messages = append(sessions[i].Messages, m)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return sessions, nil
}

func (s *SQLite) UpsertUserProfile(ctx context.Context, u user.User) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, photo_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			photo_url = excluded.photo_url,
			updated_at = excluded.updated_at`,
		u.UID, nullable(u.DisplayName), nullable(u.Email), nullable(u.PhotoURL), now, now)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.UID, err)
	}
	return nil
}

// userProfile returns nil when the user is unknown.
func (s *SQLite) userProfile(ctx context.Context, userID string) (*user.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, display_name, email, photo_url FROM users WHERE id = ?`, userID)

	var (
		u                     user.User
		name, email, photoURL sql.NullString
	)
	err := row.Scan(&u.UID, &name, &email, &photoURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	if name.Valid {
		u.DisplayName = user.StringPtr(name.String)
	}
	if email.Valid {
		u.Email = user.StringPtr(email.String)
	}
	if photoURL.Valid {
		u.PhotoURL = user.StringPtr(photoURL.String)
	}
	return &u, nil
}

func (s *SQLite) SaveCheckIn(ctx context.Context, userID string, c activity.CheckIn) error {
	values, err := json.Marshal(c.Values)
	if err != nil {
		return fmt.Errorf("encode check-in values: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO emotion_checkins (id, user_id, values_json, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			values_json = excluded.values_json,
			timestamp = excluded.timestamp`,
		c.ID, userID, string(values), c.Timestamp)
	if err != nil {
		return fmt.Errorf("save check-in %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLite) DeleteUserData(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM messages WHERE session_id IN (SELECT id FROM sessions WHERE user_id = ?)`,
		`DELETE FROM sessions WHERE user_id = ?`,
		`DELETE FROM emotion_checkins WHERE user_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
			return fmt.Errorf("delete user data: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
