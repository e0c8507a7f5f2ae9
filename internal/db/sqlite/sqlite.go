// Package sqlite is the SQL backend of db.Store, built on go-sqlite3 with
// schema managed by golang-migrate.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"support-widget-server/internal/db"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Config struct {
	Path         string
	MaxOpenConns int
	MaxIdleTime  time.Duration
}

type Store struct {
	db *sql.DB
}

var _ db.Store = (*Store)(nil)

// Migrate applies every pending up migration to the database at path.
func Migrate(path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite3://"+path)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Open migrates and opens the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := Migrate(cfg.Path); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", cfg.Path))
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleTime > 0 {
		conn.SetConnMaxIdleTime(cfg.MaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: conn}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func newID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func (s *Store) ListUsers(ctx context.Context) ([]db.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, organization_id, created_at FROM users ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []db.User{}
	for rows.Next() {
		var u db.User
		var created int64
		if err := rows.Scan(&u.ID, &u.Name, &u.OrganizationID, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = fromNanos(created)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, u db.User) (*db.User, error) {
	u.ID = newID(u.ID)
	u.CreatedAt = stamp(u.CreatedAt)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, organization_id, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.OrganizationID, u.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateContactSession(ctx context.Context, cs db.ContactSession) (*db.ContactSession, error) {
	cs.ID = newID(cs.ID)
	cs.CreatedAt = stamp(cs.CreatedAt)
	cs.ExpiresAt = cs.ExpiresAt.UTC()

	var meta sql.NullString
	if cs.Metadata != nil {
		b, err := json.Marshal(cs.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_sessions (id, name, email, organization_id, expires_at, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cs.ID, cs.Name, cs.Email, cs.OrganizationID, cs.ExpiresAt.UnixNano(), meta, cs.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert contact session: %w", err)
	}
	return &cs, nil
}

func (s *Store) GetContactSession(ctx context.Context, id string) (*db.ContactSession, error) {
	var cs db.ContactSession
	var expires, created int64
	var meta sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, organization_id, expires_at, metadata, created_at
		 FROM contact_sessions WHERE id = ?`, id).
		Scan(&cs.ID, &cs.Name, &cs.Email, &cs.OrganizationID, &expires, &meta, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cs.ExpiresAt = fromNanos(expires)
	cs.CreatedAt = fromNanos(created)
	if meta.Valid && meta.String != "" {
		var m db.Metadata
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		cs.Metadata = &m
	}
	return &cs, nil
}

func (s *Store) DeleteExpiredContactSessions(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM contact_sessions WHERE expires_at <= ?`, before.UTC().UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) CreateConversation(ctx context.Context, c db.Conversation) (*db.Conversation, error) {
	c.ID = newID(c.ID)
	c.CreatedAt = stamp(c.CreatedAt)
	if c.Status == "" {
		c.Status = db.StatusUnresolved
	}
	if !c.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", db.ErrInvalidStatus, c.Status)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, organization_id, contact_session_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.OrganizationID, c.ContactSessionID, string(c.Status), c.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &c, nil
}

func scanConversation(sc interface{ Scan(...any) error }) (*db.Conversation, error) {
	var c db.Conversation
	var status string
	var created int64
	if err := sc.Scan(&c.ID, &c.OrganizationID, &c.ContactSessionID, &status, &created); err != nil {
		return nil, err
	}
	c.Status = db.ConversationStatus(status)
	c.CreatedAt = fromNanos(created)
	return &c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*db.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, contact_session_id, status, created_at
		 FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	return c, err
}

func (s *Store) ListConversations(ctx context.Context, contactSessionID string) ([]db.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, contact_session_id, status, created_at
		 FROM conversations WHERE contact_session_id = ?
		 ORDER BY created_at DESC, rowid DESC`, contactSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []db.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) CreateMessage(ctx context.Context, m db.Message) (*db.Message, error) {
	m.ID = newID(m.ID)
	m.CreatedAt = stamp(m.CreatedAt)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]db.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []db.Message{}
	for rows.Next() {
		var m db.Message
		var role string
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.Role = db.MessageRole(role)
		m.CreatedAt = fromNanos(created)
		out = append(out, m)
	}
	return out, rows.Err()
}
