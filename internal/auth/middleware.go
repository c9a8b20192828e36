package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/privadome/privadome-api/internal/platform/httpx"
	"github.com/privadome/privadome-api/internal/rbac"
)

// ErrInvalidHeader is returned for an Authorization header that names a
// token scheme but does not carry exactly one key.
var ErrInvalidHeader = httpx.Unauthorized("Invalid token header.")

// Middleware gates routes behind token authentication.
type Middleware struct {
	service *Service
	logger  *slog.Logger
}

// NewMiddleware builds the authentication middleware.
func NewMiddleware(service *Service, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{service: service, logger: logger}
}

// Require rejects requests without a valid token and attaches the
// principal to the request context otherwise.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := tokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		principal, err := m.service.Authenticate(r.Context(), key)
		if err != nil {
			if httpx.StatusOf(err) >= http.StatusInternalServerError {
				m.logger.Error("authenticate", slog.String("path", r.URL.Path), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(rbac.ContextWithPrincipal(r.Context(), principal)))
	})
}

// tokenFromHeader accepts "Token <key>" and "Bearer <key>", case-insensitive
// on the scheme. Other schemes count as no credentials.
func tokenFromHeader(header string) (string, error) {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return "", rbac.ErrNoPrincipal
	}
	switch strings.ToLower(fields[0]) {
	case "token", "bearer":
	default:
		return "", rbac.ErrNoPrincipal
	}
	if len(fields) != 2 {
		return "", ErrInvalidHeader
	}
	return fields[1], nil
}
