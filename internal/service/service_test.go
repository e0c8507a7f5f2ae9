package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-widget-server/internal/auth"
	"support-widget-server/internal/cache"
	"support-widget-server/internal/db"
)

// countingStore records how often users are inserted.
type countingStore struct {
	db.Store
	mu          sync.Mutex
	createUsers int
	getSessions int
}

func (s *countingStore) CreateUser(ctx context.Context, u db.User) (*db.User, error) {
	s.mu.Lock()
	s.createUsers++
	s.mu.Unlock()
	return s.Store.CreateUser(ctx, u)
}

func (s *countingStore) GetContactSession(ctx context.Context, id string) (*db.ContactSession, error) {
	s.mu.Lock()
	s.getSessions++
	s.mu.Unlock()
	return s.Store.GetContactSession(ctx, id)
}

type published struct {
	topic, event string
	payload      any
}

type recordingPublisher struct {
	events []published
}

func (p *recordingPublisher) Publish(topic, event string, payload any) {
	p.events = append(p.events, published{topic, event, payload})
}

type fixture struct {
	store         *countingStore
	users         *Users
	sessions      *ContactSessions
	conversations *Conversations
	messages      *Messages
	pub           *recordingPublisher
	now           time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := db.Open(t.TempDir())
	require.NoError(t, err)

	f := &fixture{store: &countingStore{Store: d}, pub: &recordingPublisher{}}
	f.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.users = NewUsers(f.store)
	f.sessions = NewContactSessions(f.store, cache.NewMemory(), 24*time.Hour, time.Minute)
	f.sessions.Now = func() time.Time { return f.now }
	f.conversations = NewConversations(f.store, f.sessions)
	f.messages = NewMessages(f.store, f.conversations, f.pub)
	return f
}

func (f *fixture) openSession(t *testing.T, org string) *db.ContactSession {
	t.Helper()
	cs, err := f.sessions.Create(context.Background(), CreateContactSessionInput{
		Name: "Visitor", Email: "visitor@example.com", OrganizationID: org,
	})
	require.NoError(t, err)
	return cs
}

func TestUsers_CreateRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Create(ctx, nil, "Ankit")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = f.users.Create(ctx, &auth.Identity{Subject: "user_1"}, "Ankit")
	assert.ErrorIs(t, err, ErrNoOrganization)

	assert.Zero(t, f.store.createUsers)
	users, err := f.users.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestUsers_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := &auth.Identity{Subject: "user_1", OrganizationID: "org_1"}

	first, err := f.users.Create(ctx, id, "Ankit")
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	_, err = f.users.Create(ctx, id, "   ")
	require.NoError(t, err)

	users, err := f.users.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, first, users[0].ID)
	assert.Equal(t, "Ankit", users[0].Name)
	assert.Equal(t, "org_1", users[0].OrganizationID)
	assert.Equal(t, DefaultUserName, users[1].Name)
}

func TestUsers_NameLengthCountsCharacters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := &auth.Identity{Subject: "user_1", OrganizationID: "org_1"}

	// 200 two-byte characters fit
	_, err := f.users.Create(ctx, id, strings.Repeat("é", maxUserNameLength))
	require.NoError(t, err)

	_, err = f.users.Create(ctx, id, strings.Repeat("é", maxUserNameLength+1))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 1, f.store.createUsers)
}

func TestContactSessions_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []CreateContactSessionInput{
		{Email: "a@example.com", OrganizationID: "org"},
		{Name: "A", OrganizationID: "org"},
		{Name: "A", Email: "a@example.com"},
		{Name: "A", Email: "not an email", OrganizationID: "org"},
	}
	for _, in := range cases {
		_, err := f.sessions.Create(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestContactSessions_ValidateAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.openSession(t, "org_1")
	assert.Equal(t, f.now.Add(24*time.Hour), cs.ExpiresAt)

	v, err := f.sessions.Validate(ctx, cs.ID)
	require.NoError(t, err)
	assert.True(t, v.Valid)

	ok, err := f.sessions.ValidSession(ctx, cs.ID, "org_2")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err = f.sessions.Validate(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonSessionNotFound, v.Reason)

	f.now = f.now.Add(25 * time.Hour)
	v, err = f.sessions.Validate(ctx, cs.ID)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonSessionExpired, v.Reason)
}

func TestContactSessions_ValidateUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.openSession(t, "org_1")

	for i := 0; i < 3; i++ {
		_, err := f.sessions.Validate(ctx, cs.ID)
		require.NoError(t, err)
	}
	assert.Zero(t, f.store.getSessions)

	f.sessions.Forget(ctx, cs.ID)
	_, err := f.sessions.Validate(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.getSessions)
}

func TestConversations_GetOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.openSession(t, "org_1")
	other := f.openSession(t, "org_1")

	conv, err := f.conversations.Create(ctx, "org_1", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusUnresolved, conv.Status)

	got, err := f.conversations.GetOne(ctx, conv.ID, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, conv, got)

	missing, err := f.conversations.GetOne(ctx, "nope", cs.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = f.conversations.GetOne(ctx, conv.ID, other.ID)
	assert.ErrorIs(t, err, ErrIncorrectSession)

	_, err = f.conversations.GetOne(ctx, conv.ID, "bogus")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestConversations_CreateRejectsForeignOrganization(t *testing.T) {
	f := newFixture(t)
	cs := f.openSession(t, "org_1")

	_, err := f.conversations.Create(context.Background(), "org_2", cs.ID)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestConversations_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.openSession(t, "org_1")

	_, err := f.conversations.Create(ctx, "org_1", cs.ID)
	require.NoError(t, err)
	_, err = f.conversations.Create(ctx, "org_1", cs.ID)
	require.NoError(t, err)

	list, err := f.conversations.List(ctx, cs.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMessages_SendPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.openSession(t, "org_1")
	conv, err := f.conversations.Create(ctx, "org_1", cs.ID)
	require.NoError(t, err)

	msg, err := f.messages.Send(ctx, conv.ID, cs.ID, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, db.RoleUser, msg.Role)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, "conversation:"+conv.ID, f.pub.events[0].topic)
	assert.Equal(t, EventMessageCreated, f.pub.events[0].event)

	msgs, err := f.messages.List(ctx, conv.ID, cs.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
}

func TestMessages_LengthCountsCharacters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.openSession(t, "org_1")
	conv, err := f.conversations.Create(ctx, "org_1", cs.ID)
	require.NoError(t, err)

	msg, err := f.messages.Send(ctx, conv.ID, cs.ID, strings.Repeat("日", maxMessageLength))
	require.NoError(t, err)
	assert.Len(t, []rune(msg.Content), maxMessageLength)

	_, err = f.messages.Send(ctx, conv.ID, cs.ID, strings.Repeat("日", maxMessageLength+1))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Len(t, f.pub.events, 1)
}

func TestMessages_SendRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.openSession(t, "org_1")

	_, err := f.messages.Send(ctx, "c", cs.ID, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.messages.Send(ctx, "c", cs.ID, strings.Repeat("a", maxMessageLength+1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.messages.Send(ctx, "missing", cs.ID, "hi")
	assert.ErrorIs(t, err, db.ErrNotFound)

	resolved, err := f.store.CreateConversation(ctx, db.Conversation{
		OrganizationID: "org_1", ContactSessionID: cs.ID, Status: db.StatusResolved,
	})
	require.NoError(t, err)
	_, err = f.messages.Send(ctx, resolved.ID, cs.ID, "hi")
	assert.ErrorIs(t, err, ErrConversationResolved)
	assert.Empty(t, f.pub.events)
}
