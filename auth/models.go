package auth

import (
	"database/sql"
	"time"

	"github.com/user/postboard/access"
)

// User is the account row shared by the auth and users packages.
// The password hash is never serialized.
type User struct {
	ID             int64        `db:"id" json:"id"`
	Email          string       `db:"email" json:"email"`
	Username       string       `db:"username" json:"username"`
	HashedPassword string       `db:"password" json:"-"`
	FullName       string       `db:"full_name" json:"full_name"`
	GivenName      string       `db:"given_name" json:"given_name"`
	Location       string       `db:"location" json:"location"`
	TimeZone       string       `db:"time_zone" json:"time_zone"`
	IsActive       bool         `db:"is_active" json:"is_active"`
	IsStaff        bool         `db:"is_staff" json:"is_staff"`
	IsSuperuser    bool         `db:"is_superuser" json:"is_superuser"`
	LastLogin      sql.NullTime `db:"last_login" json:"-"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// UserColumns is the select list matching User's db tags.
const UserColumns = `id, email, username, password, full_name, given_name, location, time_zone,
	is_active, is_staff, is_superuser, last_login, created_at`

// Caller converts the row into the principal used by access decisions.
func (u *User) Caller() *access.Caller {
	return &access.Caller{
		UserID:      u.ID,
		IsActive:    u.IsActive,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
	}
}
