package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"support-widget-server/internal/logger"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderOrgID     = "X-Org-ID"
	HeaderSignature = "X-User-Signature"
)

// Identity is an authenticated operator. OrganizationID is empty when the
// operator has not selected an organization.
type Identity struct {
	Subject        string `json:"subject"`
	OrganizationID string `json:"organization_id,omitempty"`
}

type ctxIdentityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

// IdentityFromContext returns the verified identity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if v, ok := ctx.Value(ctxIdentityKey{}).(*Identity); ok {
		return v
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of subject and organization under key.
func Sign(key, subject, organizationID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(subject))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(organizationID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig matches subject and organization under any key.
func Verify(keys []string, subject, organizationID, sig string) bool {
	for _, k := range keys {
		expected := Sign(k, subject, organizationID)
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

type ctxRejectionKey struct{}

// RejectionFromContext returns why presented identity headers were ignored,
// or "" when none were presented or they verified.
func RejectionFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxRejectionKey{}).(string)
	return v
}

func withRejection(r *http.Request, reason string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ctxRejectionKey{}, reason))
}

// ResolveIdentity attaches the signed identity, if any, to the request
// context. It never rejects a request: handlers decide whether an identity
// is required, and read the rejection reason with RejectionFromContext.
func ResolveIdentity(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := strings.TrimSpace(r.Header.Get(HeaderUserID))
			org := strings.TrimSpace(r.Header.Get(HeaderOrgID))
			sig := strings.TrimSpace(r.Header.Get(HeaderSignature))

			if subject == "" && sig == "" {
				next.ServeHTTP(w, r)
				return
			}
			if subject == "" || sig == "" {
				logger.Warn("incomplete_identity_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
				next.ServeHTTP(w, withRejection(r, "incomplete_headers"))
				return
			}
			if len(keys) == 0 {
				logger.Error("no_signing_keys_configured")
				next.ServeHTTP(w, withRejection(r, "no_signing_keys"))
				return
			}
			if !Verify(keys, subject, org, sig) {
				logger.Warn("invalid_signature", "user", subject, "remote", r.RemoteAddr)
				next.ServeHTTP(w, withRejection(r, "invalid_signature"))
				return
			}

			logger.Debug("identity_verified", "user", subject, "org", org)
			id := &Identity{Subject: subject, OrganizationID: org}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
