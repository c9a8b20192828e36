package rbac

import "github.com/privadome/privadome-api/internal/platform/httpx"

var (
	// ErrCreateDenied is returned when a non-admin tries to create users.
	ErrCreateDenied = httpx.Forbidden("You do not have permission to create new users")
	// ErrPermissionDenied is returned when the actor is neither the owner nor an admin.
	ErrPermissionDenied = httpx.Forbidden("You do not have permission to perform this action.")
	// ErrNoPrincipal is returned when a check runs without an authenticated actor.
	ErrNoPrincipal = httpx.Unauthorized("Authentication credentials were not provided.")
)

// SeesAll reports whether p may list every account. Other principals
// only see their own record.
func SeesAll(p Principal) bool {
	return p != nil && p.IsSuperUser()
}

// Authorize applies the self-or-admin rule for action on the account
// identified by targetID. targetID is ignored for list and create.
func Authorize(p Principal, action Action, targetID int64) error {
	if p == nil {
		return ErrNoPrincipal
	}
	switch action {
	case ActionList:
		return nil
	case ActionCreate:
		if p.IsSuperUser() {
			return nil
		}
		return ErrCreateDenied
	case ActionUpdate, ActionDelete:
		if p.IsSuperUser() || p.GetID() == targetID {
			return nil
		}
		return ErrPermissionDenied
	default:
		return ErrPermissionDenied
	}
}

