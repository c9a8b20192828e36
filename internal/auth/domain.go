package auth

import (
	"time"

	"github.com/privadome/privadome-api/internal/users"
)

const (
	// TokenValidity bounds how long a token authenticates requests.
	TokenValidity = 24 * time.Hour
	// TokenRotateAfter is the age after which a login replaces the token.
	TokenRotateAfter = time.Hour
)

// Token binds an opaque key to a user account.
type Token struct {
	Key     string    `json:"key"`
	UserID  int64     `json:"user_id"`
	Created time.Time `json:"created"`
}

// Age reports how old the token is at now.
func (t Token) Age(now time.Time) time.Duration {
	return now.Sub(t.Created)
}

// Principal is the authenticated user together with the token that
// identified it. It satisfies rbac.Principal through the embedded user.
type Principal struct {
	*users.User
	Token Token
}

// Clock returns the current time.
type Clock func() time.Time
