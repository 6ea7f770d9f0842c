package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/service"
	"github.com/sirupsen/logrus"
)

// TokenParser validates a bearer token and returns its claims
type TokenParser interface {
	ParseToken(tokenString string) (*service.Claims, error)
}

type contextKeyUsername struct{}
type contextKeyRole struct{}

// UsernameFromContext returns the authenticated username, or "" if none
func UsernameFromContext(ctx context.Context) string {
	username, _ := ctx.Value(contextKeyUsername{}).(string)
	return username
}

// RoleFromContext returns the role carried by the token
func RoleFromContext(ctx context.Context) models.Role {
	role, _ := ctx.Value(contextKeyRole{}).(models.Role)
	return role
}

// WithUser stores an authenticated identity in ctx
func WithUser(ctx context.Context, username string, role models.Role) context.Context {
	ctx = context.WithValue(ctx, contextKeyUsername{}, username)
	return context.WithValue(ctx, contextKeyRole{}, role)
}

// AuthMiddleware rejects requests without a valid "Bearer" token
func AuthMiddleware(parser TokenParser, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				log.WithField("path", r.URL.Path).Warn("Missing or malformed Authorization header")
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}

			claims, err := parser.ParseToken(token)
			if err != nil {
				log.WithField("path", r.URL.Path).Warnf("Rejected token: %v", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.Subject, claims.Role)))
		})
	}
}

// RequireRole lets through only tokens carrying role
func RequireRole(role models.Role, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != role {
				log.WithFields(logrus.Fields{
					"user": UsernameFromContext(r.Context()),
					"path": r.URL.Path,
				}).Warn("Role check failed")
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
