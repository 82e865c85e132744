package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

// DefaultTokenTTL is the lifetime of tokens minted by cmd/server -mint.
const DefaultTokenTTL = 12 * time.Hour

// Tokens signs and verifies HS256 bearer tokens carrying "sub" (user ID) and
// "role".
type Tokens struct {
	auth *jwtauth.JWTAuth
}

func NewTokens(secret string) *Tokens {
	return &Tokens{
		auth: jwtauth.New("HS256", []byte(secret), nil, jwt.WithAcceptableSkew(30*time.Second)),
	}
}

func (t *Tokens) JWTAuth() *jwtauth.JWTAuth {
	return t.auth
}

// Issue signs a token for the user valid for ttl.
func (t *Tokens) Issue(u absence.User, ttl time.Duration) (string, error) {
	claims := map[string]any{
		"sub":  u.ID,
		"role": string(u.Role),
	}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, ttl)

	_, token, err := t.auth.Encode(claims)
	return token, err
}

type actorContextKey struct{}

func withActor(ctx context.Context, a absence.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, a)
}

// ActorFrom returns the authenticated caller. The zero Actor means none.
func ActorFrom(ctx context.Context) absence.Actor {
	a, _ := ctx.Value(actorContextKey{}).(absence.Actor)
	return a
}

// authenticate resolves the verified token to a stored user. Tokens for
// deleted users, or whose role no longer matches, are rejected.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			writeError(w, http.StatusUnauthorized, "Missing or invalid token", err)
			return
		}

		sub, _ := claims["sub"].(string)
		role, _ := claims["role"].(string)
		if sub == "" || role == "" {
			writeError(w, http.StatusUnauthorized, "Token must carry sub and role", nil)
			return
		}

		u, err := h.Absence.GetUser(r.Context(), sub)
		if generic.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "Unknown token subject", nil)
			return
		}
		if err != nil {
			h.writeServiceError(w, r, fmt.Errorf("failed to load token subject: %w", err))
			return
		}
		if string(u.Role) != role {
			writeError(w, http.StatusUnauthorized, "Token role is stale", nil)
			return
		}

		httplog.SetAttrs(r.Context(), slog.String("user.id", u.ID), slog.String("user.roles", string(u.Role)))
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), absence.Actor{ID: u.ID, Role: u.Role})))
	})
}

// requireRole lets through only callers holding one of roles.
func requireRole(roles ...absence.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, ActorFrom(r.Context()).Role) {
				writeError(w, http.StatusForbidden, "Role not allowed", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
