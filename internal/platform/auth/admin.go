package auth

import (
	"net/http"
	"strings"

	"github.com/example/movie-catalog/internal/platform/api"
	"github.com/example/movie-catalog/internal/platform/httpserver"
)

// RequireAdmin allows the request only if RequireUser already injected role=admin into context.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := RoleFromContext(r.Context())
		if !strings.EqualFold(strings.TrimSpace(role), RoleAdmin) {
			api.Forbidden(w, "FORBIDDEN", "admin role required", httpserver.RequestIDFromContext(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}
