// Package dbtest holds the behaviour every db.Store backend must share.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-widget-server/internal/db"
)

// RunStoreTests exercises a fresh store returned by open for each subtest.
func RunStoreTests(t *testing.T, open func(t *testing.T) db.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Users", func(t *testing.T) {
		s := open(t)

		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		assert.Empty(t, users)

		first, err := s.CreateUser(ctx, db.User{Name: "Ankit", OrganizationID: "org_1"})
		require.NoError(t, err)
		assert.NotEmpty(t, first.ID)
		assert.False(t, first.CreatedAt.IsZero())

		_, err = s.CreateUser(ctx, db.User{Name: "Bea", OrganizationID: "org_2"})
		require.NoError(t, err)

		users, err = s.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "Ankit", users[0].Name)
		assert.Equal(t, "org_1", users[0].OrganizationID)
		assert.Equal(t, "Bea", users[1].Name)
	})

	t.Run("ContactSessions", func(t *testing.T) {
		s := open(t)
		now := time.Now().UTC()
		offset := -60

		created, err := s.CreateContactSession(ctx, db.ContactSession{
			Name:           "Visitor",
			Email:          "visitor@example.com",
			OrganizationID: "org_1",
			ExpiresAt:      now.Add(time.Hour),
			Metadata:       &db.Metadata{UserAgent: "test-agent", TimezoneOffset: &offset},
		})
		require.NoError(t, err)

		got, err := s.GetContactSession(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "visitor@example.com", got.Email)
		assert.True(t, got.ExpiresAt.Equal(created.ExpiresAt))
		require.NotNil(t, got.Metadata)
		assert.Equal(t, "test-agent", got.Metadata.UserAgent)
		require.NotNil(t, got.Metadata.TimezoneOffset)
		assert.Equal(t, -60, *got.Metadata.TimezoneOffset)

		_, err = s.GetContactSession(ctx, "missing")
		assert.ErrorIs(t, err, db.ErrNotFound)
	})

	t.Run("DeleteExpiredContactSessions", func(t *testing.T) {
		s := open(t)
		now := time.Now().UTC()

		expired, err := s.CreateContactSession(ctx, db.ContactSession{
			Name: "Old", Email: "old@example.com", OrganizationID: "org_1", ExpiresAt: now.Add(-time.Minute),
		})
		require.NoError(t, err)
		live, err := s.CreateContactSession(ctx, db.ContactSession{
			Name: "New", Email: "new@example.com", OrganizationID: "org_1", ExpiresAt: now.Add(time.Hour),
		})
		require.NoError(t, err)

		n, err := s.DeleteExpiredContactSessions(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.GetContactSession(ctx, expired.ID)
		assert.ErrorIs(t, err, db.ErrNotFound)
		_, err = s.GetContactSession(ctx, live.ID)
		assert.NoError(t, err)

		n, err = s.DeleteExpiredContactSessions(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Conversations", func(t *testing.T) {
		s := open(t)
		base := time.Now().UTC()

		older, err := s.CreateConversation(ctx, db.Conversation{
			OrganizationID: "org_1", ContactSessionID: "cs_1", CreatedAt: base,
		})
		require.NoError(t, err)
		assert.Equal(t, db.StatusUnresolved, older.Status)

		newer, err := s.CreateConversation(ctx, db.Conversation{
			OrganizationID: "org_1", ContactSessionID: "cs_1", CreatedAt: base.Add(time.Second), Status: db.StatusEscalated,
		})
		require.NoError(t, err)
		_, err = s.CreateConversation(ctx, db.Conversation{OrganizationID: "org_1", ContactSessionID: "cs_2"})
		require.NoError(t, err)

		got, err := s.GetConversation(ctx, older.ID)
		require.NoError(t, err)
		assert.Equal(t, "cs_1", got.ContactSessionID)

		list, err := s.ListConversations(ctx, "cs_1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, db.StatusEscalated, list[0].Status)

		_, err = s.GetConversation(ctx, "missing")
		assert.ErrorIs(t, err, db.ErrNotFound)
	})

	t.Run("ConversationStatusRejected", func(t *testing.T) {
		s := open(t)
		_, err := s.CreateConversation(ctx, db.Conversation{
			OrganizationID: "org_1", ContactSessionID: "cs_1", Status: "archived",
		})
		assert.ErrorIs(t, err, db.ErrInvalidStatus)

		list, err := s.ListConversations(ctx, "cs_1")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("Messages", func(t *testing.T) {
		s := open(t)
		base := time.Now().UTC()

		_, err := s.CreateMessage(ctx, db.Message{ConversationID: "c1", Role: db.RoleUser, Content: "second", CreatedAt: base.Add(time.Second)})
		require.NoError(t, err)
		_, err = s.CreateMessage(ctx, db.Message{ConversationID: "c1", Role: db.RoleAssistant, Content: "first", CreatedAt: base})
		require.NoError(t, err)
		_, err = s.CreateMessage(ctx, db.Message{ConversationID: "c2", Role: db.RoleUser, Content: "other"})
		require.NoError(t, err)

		msgs, err := s.ListMessages(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "first", msgs[0].Content)
		assert.Equal(t, db.RoleAssistant, msgs[0].Role)
		assert.Equal(t, "second", msgs[1].Content)

		empty, err := s.ListMessages(ctx, "none")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
