package server

import (
	"context"
	"net/http"
	"strings"

	"secretsanta/internal/domain"
	"secretsanta/internal/engine/auth"
)

type bearerKey struct{}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newCredentialMiddleware stashes a bearer credential for actions that carry
// no password field. Resolution happens per action.
func newCredentialMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if token, ok := bearerToken(req.Header.Get("Authorization")); ok {
				req = req.WithContext(context.WithValue(req.Context(), bearerKey{}, token))
			}
			next.ServeHTTP(w, req)
		})
	}
}

func bearerFromContext(ctx context.Context) string {
	v, _ := ctx.Value(bearerKey{}).(string)
	return v
}

// resolveSession authenticates the first non-empty credential, falling back to the bearer token.
func resolveSession(ctx context.Context, a auth.Authenticator, creds ...string) (auth.Session, error) {
	credential := ""
	for _, c := range creds {
		if c = strings.TrimSpace(c); c != "" {
			credential = c
			break
		}
	}
	if credential == "" {
		credential = bearerFromContext(ctx)
	}
	if credential == "" {
		return auth.Session{}, domain.ErrUnauthorized
	}
	s, err := a.Authenticate(ctx, credential)
	if err != nil {
		return auth.Session{}, err
	}
	if s.Kind == auth.Rejected {
		return auth.Session{}, domain.ErrUnauthorized
	}
	return s, nil
}

func requireUser(ctx context.Context, a auth.Authenticator, req ActionRequest) (auth.Session, error) {
	s, err := resolveSession(ctx, a, req.Password, req.AdminPassword)
	if err != nil {
		return s, err
	}
	if s.Kind != auth.User {
		return auth.Session{}, domain.ErrForbidden
	}
	return s, nil
}

func requireAdmin(ctx context.Context, a auth.Authenticator, req ActionRequest) (auth.Session, error) {
	s, err := resolveSession(ctx, a, req.AdminPassword, bearerFromContext(ctx), req.Password)
	if err != nil {
		return s, err
	}
	if s.Kind != auth.Admin {
		return auth.Session{}, domain.ErrForbidden
	}
	return s, nil
}
