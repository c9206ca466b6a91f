// Package testutil holds fixtures shared by the package tests.
package testutil

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/user/postboard/config"
	"github.com/user/postboard/db"
)

// JWTSecret signs every token minted by AuthConfig.
const JWTSecret = "test-secret-that-is-long-enough-for-hs256"

// OpenDB opens a private in-memory SQLite database with all migrations applied.
// It is closed when the test ends.
func OpenDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := db.RunMigrations(d); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return d
}

// AuthConfig returns token settings suitable for tests.
func AuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:            JWTSecret,
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 24 * time.Hour,
		Issuer:               "postboard-test",
	}
}

// UserFixture describes a row inserted by InsertUser.
type UserFixture struct {
	Email     string
	Username  string
	Password  string
	Superuser bool
	Staff     bool
	Inactive  bool
}

// InsertUser writes a user row directly, bypassing the signup path, and returns its ID.
// The password is hashed with the minimum bcrypt cost to keep tests fast.
func InsertUser(t *testing.T, d *db.DB, u UserFixture) int64 {
	t.Helper()
	if u.Username == "" {
		u.Username = u.Email
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	var id int64
	err = d.QueryRowx(d.Rebind(`
		INSERT INTO users (email, username, password, is_active, is_staff, is_superuser, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		u.Email, u.Username, string(hash), !u.Inactive, u.Staff || u.Superuser, u.Superuser, time.Now().UTC().Truncate(time.Microsecond),
	).Scan(&id)
	if err != nil {
		t.Fatalf("insert user %s: %v", u.Email, err)
	}
	return id
}

// InsertPost writes a post row directly and returns its ID.
func InsertPost(t *testing.T, d *db.DB, userID int64, title, content string) int64 {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	var id int64
	err := d.QueryRowx(d.Rebind(`
		INSERT INTO posts (user_id, title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		userID, title, content, now, now,
	).Scan(&id)
	if err != nil {
		t.Fatalf("insert post %q: %v", title, err)
	}
	return id
}
