package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	usersFile           = "users.json"
	contactSessionsFile = "contact_sessions.json"
	conversationsFile   = "conversations.json"
	messagesFile        = "messages.json"
)

// Database is the file backend: every table lives in memory and is written
// back to its own JSON file under DataDir after each mutation.
type Database struct {
	Users           []User
	ContactSessions []ContactSession
	Conversations   []Conversation
	Messages        []Message
	mu              sync.RWMutex
	DataDir         string
}

var _ Store = (*Database)(nil)

func New(dataDir string) *Database {
	return &Database{
		Users:           []User{},
		ContactSessions: []ContactSession{},
		Conversations:   []Conversation{},
		Messages:        []Message{},
		DataDir:         dataDir,
	}
}

// Open creates the file backend and loads whatever is already on disk.
func Open(dataDir string) (*Database, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	d := New(dataDir)
	if err := d.Load(); err != nil {
		return nil, err
	}
	return d, nil
}

func (db *Database) tables() map[string]any {
	return map[string]any{
		usersFile:           &db.Users,
		contactSessionsFile: &db.ContactSessions,
		conversationsFile:   &db.Conversations,
		messagesFile:        &db.Messages,
	}
}

func (db *Database) Load() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for name, dst := range db.tables() {
		path := filepath.Join(db.DataDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if len(data) == 0 {
			continue
		}
		if err := json.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return nil
}

// save writes one table. Callers hold the write lock.
func (db *Database) save(name string, v any) error {
	if err := os.MkdirAll(db.DataDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(db.DataDir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(db.DataDir, name))
}

func (db *Database) Close() error {
	return nil
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

func (db *Database) ListUsers(ctx context.Context) ([]User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]User, len(db.Users))
	copy(out, db.Users)
	return out, nil
}

func (db *Database) CreateUser(ctx context.Context, u User) (*User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u.ID = newID(u.ID)
	u.CreatedAt = stamp(u.CreatedAt)

	db.Users = append(db.Users, u)
	if err := db.save(usersFile, db.Users); err != nil {
		db.Users = db.Users[:len(db.Users)-1]
		return nil, err
	}
	return &u, nil
}

func (db *Database) CreateContactSession(ctx context.Context, s ContactSession) (*ContactSession, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	s.ID = newID(s.ID)
	s.CreatedAt = stamp(s.CreatedAt)
	s.ExpiresAt = s.ExpiresAt.UTC()

	db.ContactSessions = append(db.ContactSessions, s)
	if err := db.save(contactSessionsFile, db.ContactSessions); err != nil {
		db.ContactSessions = db.ContactSessions[:len(db.ContactSessions)-1]
		return nil, err
	}
	return &s, nil
}

func (db *Database) GetContactSession(ctx context.Context, id string) (*ContactSession, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, s := range db.ContactSessions {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (db *Database) DeleteExpiredContactSessions(ctx context.Context, before time.Time) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	kept := make([]ContactSession, 0, len(db.ContactSessions))
	for _, s := range db.ContactSessions {
		if !s.Expired(before) {
			kept = append(kept, s)
		}
	}
	removed := len(db.ContactSessions) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := db.save(contactSessionsFile, kept); err != nil {
		return 0, err
	}
	db.ContactSessions = kept
	return removed, nil
}

func (db *Database) CreateConversation(ctx context.Context, c Conversation) (*Conversation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c.ID = newID(c.ID)
	c.CreatedAt = stamp(c.CreatedAt)
	if c.Status == "" {
		c.Status = StatusUnresolved
	}
	if !c.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, c.Status)
	}

	db.Conversations = append(db.Conversations, c)
	if err := db.save(conversationsFile, db.Conversations); err != nil {
		db.Conversations = db.Conversations[:len(db.Conversations)-1]
		return nil, err
	}
	return &c, nil
}

func (db *Database) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, c := range db.Conversations {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (db *Database) ListConversations(ctx context.Context, contactSessionID string) ([]Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	result := []Conversation{}
	for _, c := range db.Conversations {
		if c.ContactSessionID == contactSessionID {
			result = append(result, c)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (db *Database) CreateMessage(ctx context.Context, msg Message) (*Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	msg.ID = newID(msg.ID)
	msg.CreatedAt = stamp(msg.CreatedAt)

	db.Messages = append(db.Messages, msg)
	if err := db.save(messagesFile, db.Messages); err != nil {
		db.Messages = db.Messages[:len(db.Messages)-1]
		return nil, err
	}
	return &msg, nil
}

func (db *Database) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	result := []Message{}
	for _, m := range db.Messages {
		if m.ConversationID == conversationID {
			result = append(result, m)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
