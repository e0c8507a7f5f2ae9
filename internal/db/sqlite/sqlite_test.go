package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-widget-server/internal/db"
	"support-widget-server/internal/db/dbtest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "widget.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	dbtest.RunStoreTests(t, func(t *testing.T) db.Store {
		return openTestStore(t)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "widget.db")
	require.NoError(t, Migrate(path))
	require.NoError(t, Migrate(path))

	s, err := Open(context.Background(), Config{Path: path, MaxOpenConns: 2})
	require.NoError(t, err)
	defer s.Close()

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestStore_ContactSessionWithoutMetadata(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cs, err := s.CreateContactSession(ctx, db.ContactSession{
		Name: "V", Email: "v@example.com", OrganizationID: "org", ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := s.GetContactSession(ctx, cs.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Metadata)
}
