package widget

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// CookieCodec signs and verifies the state cookie.
type CookieCodec struct {
	sc     *securecookie.SecureCookie
	maxAge time.Duration
	secure bool
}

// NewCookieCodec builds a codec keyed by hashKey. An empty key gets a random
// one, so cookies do not survive a restart.
func NewCookieCodec(hashKey []byte, maxAge time.Duration, secure bool) *CookieCodec {
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(32)
	}
	sc := securecookie.New(hashKey, nil)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int(maxAge.Seconds()))
	return &CookieCodec{sc: sc, maxAge: maxAge, secure: secure}
}

// Load decodes the state cookie. A missing, expired or tampered cookie yields
// a fresh state.
func (c *CookieCodec) Load(r *http.Request) *State {
	ck, err := r.Cookie(CookieName)
	if err != nil {
		return NewState()
	}
	s := NewState()
	if err := c.sc.Decode(CookieName, ck.Value, s); err != nil {
		return NewState()
	}
	if _, ok := ParseScreen(string(s.Screen)); !ok {
		s.Screen = ScreenLoading
	}
	return s
}

// Cookie encodes s for the response.
func (c *CookieCodec) Cookie(s *State) (*http.Cookie, error) {
	value, err := c.sc.Encode(CookieName, s)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/widget",
		MaxAge:   int(c.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}
