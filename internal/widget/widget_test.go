package widget

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScreen(t *testing.T) {
	for _, s := range []string{"loading", "error", "auth", "voice", "inbox", "selection", "chat", "contact"} {
		sc, ok := ParseScreen(s)
		assert.True(t, ok, s)
		assert.Equal(t, Screen(s), sc)
	}
	_, ok := ParseScreen("settings")
	assert.False(t, ok)
	_, ok = ParseScreen("")
	assert.False(t, ok)
}

func TestOrganizationIDFromQuery(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  string
		ok    bool
	}{
		{"camel case", "organizationId=org_1", "org_1", true},
		{"lower case", "organizationid=org_2", "org_2", true},
		{"camel wins", "organizationid=org_2&organizationId=org_1", "org_1", true},
		{"other casing", "ORGANIZATIONID=org_3", "org_3", true},
		{"absent", "foo=bar", "", false},
		{"empty", "organizationId=", "", false},
		{"empty camel shadows lower", "organizationId=&organizationid=org_2", "", false},
		{"repeated", "organizationId=a&organizationId=b", "", false},
		{"no query", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := url.ParseQuery(tc.query)
			require.NoError(t, err)
			got, ok := OrganizationIDFromQuery(q)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

type stubValidator struct {
	valid bool
	err   error
	calls int
}

func (v *stubValidator) ValidSession(ctx context.Context, id, org string) (bool, error) {
	v.calls++
	return v.valid, v.err
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("missing organization", func(t *testing.T) {
		s := NewState()
		v := &stubValidator{}
		require.NoError(t, s.Resolve(ctx, v))
		assert.Equal(t, ScreenError, s.Screen)
		assert.Equal(t, MessageOrganizationRequired, s.ErrorMessage)
		assert.Zero(t, v.calls)
	})

	t.Run("no session", func(t *testing.T) {
		s := NewState()
		s.Reload("org_1")
		v := &stubValidator{}
		require.NoError(t, s.Resolve(ctx, v))
		assert.Equal(t, ScreenAuth, s.Screen)
		assert.Zero(t, v.calls)
	})

	t.Run("valid session", func(t *testing.T) {
		s := NewState()
		s.Reload("org_1")
		s.SetContactSessionID("org_1", "cs_1")
		require.NoError(t, s.Resolve(ctx, &stubValidator{valid: true}))
		assert.Equal(t, ScreenSelection, s.Screen)
	})

	t.Run("stale session is dropped", func(t *testing.T) {
		s := NewState()
		s.Reload("org_1")
		s.SetContactSessionID("org_1", "cs_1")
		require.NoError(t, s.Resolve(ctx, &stubValidator{}))
		assert.Equal(t, ScreenAuth, s.Screen)
		assert.Empty(t, s.ContactSessionID("org_1"))
	})

	t.Run("only from loading", func(t *testing.T) {
		s := &State{Screen: ScreenChat}
		require.NoError(t, s.Resolve(ctx, &stubValidator{}))
		assert.Equal(t, ScreenChat, s.Screen)
	})

	t.Run("validator error", func(t *testing.T) {
		s := NewState()
		s.Reload("org_1")
		s.SetContactSessionID("org_1", "cs_1")
		boom := errors.New("boom")
		assert.ErrorIs(t, s.Resolve(ctx, &stubValidator{err: boom}), boom)
	})
}

func TestBack(t *testing.T) {
	s := &State{Screen: ScreenChat, OrganizationID: "org_1", ConversationID: "conv_1"}
	s.Back()
	assert.Equal(t, ScreenSelection, s.Screen)
	assert.Empty(t, s.ConversationID)
	assert.Equal(t, "org_1", s.OrganizationID)
}

func TestStateCookieRoundTrip(t *testing.T) {
	codec := NewCookieCodec([]byte("cookie-key"), time.Hour, true)
	s := &State{Screen: ScreenChat, OrganizationID: "org_1", ConversationID: "conv_1"}
	s.SetContactSessionID("org_1", "cs_1")
	s.SetContactSessionID("org_2", "cs_2")

	c, err := codec.Cookie(s)
	require.NoError(t, err)
	assert.True(t, c.Secure)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, 3600, c.MaxAge)

	r := httptest.NewRequest("GET", "/widget", nil)
	r.AddCookie(c)
	assert.Equal(t, s, codec.Load(r))

	r = httptest.NewRequest("GET", "/widget", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "%%%"})
	assert.Equal(t, NewState(), codec.Load(r))

	assert.Equal(t, NewState(), codec.Load(httptest.NewRequest("GET", "/widget", nil)))
}

func TestStateCookie_RejectsTampering(t *testing.T) {
	codec := NewCookieCodec([]byte("cookie-key"), time.Hour, false)
	s := &State{Screen: ScreenChat, OrganizationID: "org_1", ConversationID: "conv_1"}
	s.SetContactSessionID("org_1", "cs_1")
	c, err := codec.Cookie(s)
	require.NoError(t, err)

	// flip one character of the signed payload
	value := []byte(c.Value)
	mid := len(value) / 2
	if value[mid] == 'A' {
		value[mid] = 'B'
	} else {
		value[mid] = 'A'
	}
	r := httptest.NewRequest("GET", "/widget", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: string(value)})
	assert.Equal(t, NewState(), codec.Load(r))

	// a cookie signed under another key is rejected too
	forged, err := NewCookieCodec([]byte("attacker-key"), time.Hour, false).Cookie(&State{
		Screen:          ScreenChat,
		OrganizationID:  "org_1",
		ConversationID:  "someone_elses",
		ContactSessions: map[string]string{"org_1": "cs_victim"},
	})
	require.NoError(t, err)
	r = httptest.NewRequest("GET", "/widget", nil)
	r.AddCookie(forged)
	assert.Equal(t, NewState(), codec.Load(r))
}

func TestStateCookie_RandomKeyWhenUnset(t *testing.T) {
	a := NewCookieCodec(nil, time.Hour, false)
	c, err := a.Cookie(&State{Screen: ScreenAuth})
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/widget", nil)
	r.AddCookie(c)
	assert.Equal(t, ScreenAuth, a.Load(r).Screen)
	assert.Equal(t, NewState(), NewCookieCodec(nil, time.Hour, false).Load(r))
}

func TestLoadConversation_SkipsWithoutBothIDs(t *testing.T) {
	ctx := context.Background()
	calls := 0
	fetch := func(ctx context.Context, conversationID, contactSessionID string) (any, error) {
		calls++
		return map[string]string{"id": conversationID, "status": "unresolved"}, nil
	}

	for _, ids := range [][2]string{{"", ""}, {"conv_1", ""}, {"", "cs_1"}} {
		data, err := LoadConversation(ctx, fetch, ids[0], ids[1])
		require.NoError(t, err)
		assert.False(t, data.Fetched)
	}
	assert.Zero(t, calls)

	data, err := LoadConversation(ctx, fetch, "conv_1", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, data.Fetched)
	assert.JSONEq(t, `{"id":"conv_1","status":"unresolved"}`, data.JSON)
}

func TestLoadConversation_NilConversation(t *testing.T) {
	fetch := func(ctx context.Context, conversationID, contactSessionID string) (any, error) {
		return nil, nil
	}
	data, err := LoadConversation(context.Background(), fetch, "conv_1", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "null", data.JSON)
}

func TestViewRender(t *testing.T) {
	v := NewView()

	render := func(p Page) string {
		var buf bytes.Buffer
		require.NoError(t, v.Render(&buf, p))
		return buf.String()
	}

	out := render(Page{State: &State{Screen: ScreenInbox}})
	assert.Contains(t, out, `data-screen="inbox"`)
	assert.Contains(t, out, "<p>Inbox</p>")

	out = render(Page{State: &State{Screen: ScreenError, ErrorMessage: MessageOrganizationRequired}})
	assert.Contains(t, out, MessageOrganizationRequired)

	out = render(Page{State: &State{Screen: ScreenAuth}, FormError: "invalid email"})
	assert.Contains(t, out, `action="/widget/auth"`)
	assert.Contains(t, out, "invalid email")

	out = render(Page{
		State: &State{Screen: ScreenChat},
		Chat:  ChatData{Fetched: true, JSON: `{"id": "<conv>"}`},
	})
	assert.Contains(t, out, `action="/widget/back"`)
	assert.Contains(t, out, "<p>Chat</p>")
	assert.Contains(t, out, "&lt;conv&gt;")
}
