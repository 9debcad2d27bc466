package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ukydev/vehicle-care/internal/auth"
	"github.com/ukydev/vehicle-care/internal/httputil"
	"github.com/ukydev/vehicle-care/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	UserContextKey contextKey = "user"
)

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	authService *auth.Service
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authService *auth.Service) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// Authenticate validates JWT tokens and adds user context
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		claims, err := m.authService.ValidateToken(authHeader)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "Token expired"
			}
			httputil.WriteError(w, http.StatusUnauthorized, msg)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims)))
	})
}

// RequirePermission middleware checks if the user has the required permission
func (m *AuthMiddleware) RequirePermission(requiredAction string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok {
				httputil.WriteError(w, http.StatusUnauthorized, "User context not found")
				return
			}

			if !claims.Role.HasPermission(requiredAction) {
				httputil.WriteError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithUser stores claims in ctx.
func WithUser(ctx context.Context, claims *models.Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(ctx context.Context) (*models.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*models.Claims)
	return claims, ok && claims != nil
}

// shouldSkipAuth reports paths served without a token.
func shouldSkipAuth(path string) bool {
	skipPaths := []string{
		"/api/auth/login",
		"/api/auth/register",
		"/api/catalog",
		"/health",
	}

	for _, skipPath := range skipPaths {
		if path == skipPath || strings.HasPrefix(path, skipPath+"/") {
			return true
		}
	}
	return false
}
