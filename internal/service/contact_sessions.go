package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"support-widget-server/internal/cache"
	"support-widget-server/internal/db"
	"support-widget-server/internal/logger"
)

const (
	ReasonSessionNotFound = "Contact session not found"
	ReasonSessionExpired  = "Contact session expired"
)

type CreateContactSessionInput struct {
	Name           string       `json:"name"`
	Email          string       `json:"email"`
	OrganizationID string       `json:"organization_id"`
	Metadata       *db.Metadata `json:"metadata,omitempty"`
}

// Validation is the outcome of checking a contact session id.
type Validation struct {
	Valid          bool               `json:"valid"`
	Reason         string             `json:"reason,omitempty"`
	ContactSession *db.ContactSession `json:"contact_session,omitempty"`
}

type ContactSessions struct {
	Store    db.Store
	Cache    cache.Cache
	Duration time.Duration
	CacheTTL time.Duration
	Now      func() time.Time
}

func NewContactSessions(store db.Store, c cache.Cache, duration, cacheTTL time.Duration) *ContactSessions {
	return &ContactSessions{Store: store, Cache: c, Duration: duration, CacheTTL: cacheTTL, Now: time.Now}
}

func cacheKey(id string) string {
	return "contact_session:" + id
}

func (s *ContactSessions) Create(ctx context.Context, in CreateContactSessionInput) (*db.ContactSession, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.OrganizationID = strings.TrimSpace(in.OrganizationID)

	switch {
	case in.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case in.Email == "":
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	case in.OrganizationID == "":
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}

	now := s.Now().UTC()
	cs, err := s.Store.CreateContactSession(ctx, db.ContactSession{
		Name:           in.Name,
		Email:          in.Email,
		OrganizationID: in.OrganizationID,
		ExpiresAt:      now.Add(s.Duration),
		Metadata:       in.Metadata,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.remember(ctx, cs)
	return cs, nil
}

// Validate looks the session up, through the cache when possible, and
// checks its expiry.
func (s *ContactSessions) Validate(ctx context.Context, id string) (Validation, error) {
	if id == "" {
		return Validation{Reason: ReasonSessionNotFound}, nil
	}
	cs, err := s.lookup(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return Validation{Reason: ReasonSessionNotFound}, nil
	}
	if err != nil {
		return Validation{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if cs.Expired(s.Now()) {
		return Validation{Reason: ReasonSessionExpired}, nil
	}
	return Validation{Valid: true, ContactSession: cs}, nil
}

// ValidSession reports whether id is a live session of organizationID.
func (s *ContactSessions) ValidSession(ctx context.Context, id, organizationID string) (bool, error) {
	v, err := s.Validate(ctx, id)
	if err != nil {
		return false, err
	}
	return v.Valid && v.ContactSession.OrganizationID == organizationID, nil
}

// Forget drops cached copies of the given sessions.
func (s *ContactSessions) Forget(ctx context.Context, ids ...string) {
	if s.Cache == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}
	if _, err := s.Cache.Del(ctx, keys...); err != nil {
		logger.Warn("contact_session_cache_del_failed", "error", err)
	}
}

func (s *ContactSessions) lookup(ctx context.Context, id string) (*db.ContactSession, error) {
	if s.Cache != nil {
		raw, err := s.Cache.Get(ctx, cacheKey(id))
		if err == nil {
			var cs db.ContactSession
			if jerr := json.Unmarshal([]byte(raw), &cs); jerr == nil {
				return &cs, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			logger.Warn("contact_session_cache_get_failed", "id", id, "error", err)
		}
	}
	cs, err := s.Store.GetContactSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, cs)
	return cs, nil
}

// remember caches cs until the earlier of its expiry and CacheTTL.
func (s *ContactSessions) remember(ctx context.Context, cs *db.ContactSession) {
	if s.Cache == nil {
		return
	}
	ttl := cs.ExpiresAt.Sub(s.Now())
	if ttl <= 0 {
		return
	}
	if s.CacheTTL > 0 && s.CacheTTL < ttl {
		ttl = s.CacheTTL
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, cacheKey(cs.ID), string(b), ttl); err != nil {
		logger.Warn("contact_session_cache_set_failed", "id", cs.ID, "error", err)
	}
}
