// Package identity extracts the acting user at the HTTP edge. Sessions are
// issued upstream; the authenticating proxy forwards the user as headers.
package identity

import (
	"context"
	"net/http"
	"strings"

	"tickerwatch/internal/domain"
)

// Header names carrying the authenticated user.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

type ctxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *domain.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the user stored in ctx, or nil.
func FromContext(ctx context.Context) *domain.User {
	u, _ := ctx.Value(ctxKey{}).(*domain.User)
	return u
}

// FromRequest reads the user headers. A request without a user id has no
// user.
func FromRequest(r *http.Request) *domain.User {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return nil
	}
	return &domain.User{
		ID:    id,
		Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
	}
}

// Middleware stores the request's user, if any, in the request context.
// It never rejects a request; operations decide whether a user is required.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := FromRequest(r); u != nil {
			r = r.WithContext(WithUser(r.Context(), u))
		}
		next.ServeHTTP(w, r)
	})
}
