package dataspace

import "context"

// Session is the identity a request acts as.
type Session interface {
	Principal() string
	IsAuthenticated() bool
}

// StaticSession is a Session with fixed values.
type StaticSession struct {
	ID            string
	Authenticated bool
}

// AuthenticatedAs returns an authenticated session for principal.
func AuthenticatedAs(principal string) StaticSession {
	return StaticSession{ID: principal, Authenticated: principal != ""}
}

// Principal returns the session's principal identifier.
func (s StaticSession) Principal() string { return s.ID }

// IsAuthenticated reports whether the session is authenticated.
func (s StaticSession) IsAuthenticated() bool { return s.Authenticated }

type sessionContextKey struct{}

// WithSession stores a session in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the session stored in ctx, or an anonymous
// session when none is present.
func SessionFromContext(ctx context.Context) Session {
	if ctx != nil {
		if s, ok := ctx.Value(sessionContextKey{}).(Session); ok && s != nil {
			return s
		}
	}
	return StaticSession{}
}

// authenticatedPrincipal returns the principal of an authenticated session in ctx.
func authenticatedPrincipal(ctx context.Context) (string, error) {
	s := SessionFromContext(ctx)
	if !s.IsAuthenticated() || s.Principal() == "" {
		return "", ErrUnauthenticated
	}
	return s.Principal(), nil
}
