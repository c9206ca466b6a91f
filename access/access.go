// Package access decides what a caller may do with a resource.
//
// The rules are deliberately small:
//   - anonymous callers may do nothing (401);
//   - a regular user may do everything with the rows they own, and the rows they do not
//     own are filtered out of every query, so they surface as 404 rather than 403;
//   - a superuser may read, update and delete any row but may not author content (403 on create);
//   - staff (and superusers) may use the admin user surfaces.
package access

import (
	"sort"
	"strings"

	"github.com/user/postboard/apperror"
)

// Method is an operation on a resource.
type Method string

const (
	Read   Method = "read"
	Create Method = "create"
	Update Method = "update"
	Delete Method = "delete"
)

// Caller is the authenticated principal of a request.
type Caller struct {
	UserID      int64
	IsActive    bool
	IsStaff     bool
	IsSuperuser bool
}

// MethodSet is the set of methods permitted on a resource.
type MethodSet map[Method]struct{}

func newSet(methods ...Method) MethodSet {
	s := make(MethodSet, len(methods))
	for _, m := range methods {
		s[m] = struct{}{}
	}
	return s
}

// Has reports whether m is permitted.
func (s MethodSet) Has(m Method) bool {
	_, ok := s[m]
	return ok
}

func (s MethodSet) String() string {
	names := make([]string, 0, len(s))
	for m := range s {
		names = append(names, string(m))
	}
	sort.Strings(names)
	return "{" + strings.Join(names, ",") + "}"
}

// Allowed returns the methods caller may perform on a resource owned by ownerID.
func Allowed(caller *Caller, ownerID int64) MethodSet {
	switch {
	case caller == nil, !caller.IsActive:
		return newSet()
	case caller.IsSuperuser:
		return newSet(Read, Update, Delete)
	case caller.UserID == ownerID:
		return newSet(Read, Create, Update, Delete)
	default:
		return newSet()
	}
}

// Authorize applies the role gate that does not depend on a particular row.
func Authorize(caller *Caller, method Method) error {
	if err := authenticated(caller); err != nil {
		return err
	}
	if method == Create && caller.IsSuperuser {
		return apperror.NewForbiddenError("Superusers cannot create posts.", nil)
	}
	return nil
}

// Scope is the row filter a query must apply for a caller.
type Scope struct {
	All     bool  // no owner restriction
	OwnerID int64 // only meaningful when All is false
}

// ScopeFor returns the visibility scope of caller. Callers must be authenticated.
func ScopeFor(caller *Caller) Scope {
	if caller.IsSuperuser {
		return Scope{All: true}
	}
	return Scope{OwnerID: caller.UserID}
}

// Includes reports whether a row owned by ownerID is inside the scope.
func (s Scope) Includes(ownerID int64) bool {
	return s.All || s.OwnerID == ownerID
}

// RequireStaff guards admin-only surfaces.
func RequireStaff(caller *Caller) error {
	if err := authenticated(caller); err != nil {
		return err
	}
	if !caller.IsStaff && !caller.IsSuperuser {
		return apperror.NewForbiddenError("You do not have permission to perform this action.", nil)
	}
	return nil
}

// authenticated rejects anonymous and disabled callers.
func authenticated(caller *Caller) error {
	if caller == nil {
		return apperror.NewAuthError("Authentication credentials were not provided.", nil)
	}
	if !caller.IsActive {
		return apperror.NewAuthError("User account is disabled.", nil)
	}
	return nil
}
