package auth

import (
	"context"

	"github.com/user/postboard/access"
)

type userKey struct{}

// NewContextWithUser stores the authenticated user in ctx.
func NewContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the authenticated user set by Middleware.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userKey{}).(*User)
	return user, ok && user != nil
}

// CallerFromContext returns the access principal, or nil for anonymous requests.
func CallerFromContext(ctx context.Context) *access.Caller {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil
	}
	return user.Caller()
}
