package users

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/user/postboard/apperror"
	"github.com/user/postboard/enrichment"
	"github.com/user/postboard/testutil"
)

type fakeEnricher struct {
	profiles map[string]*enrichment.Profile
	err      error
	calls    int
}

func (f *fakeEnricher) Lookup(_ context.Context, email string) (*enrichment.Profile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.profiles[email]; ok {
		return p, nil
	}
	return nil, enrichment.ErrNotFound
}

func newTestService(t *testing.T, enricher enrichment.Enricher) *UserService {
	t.Helper()
	return NewUserService(testutil.OpenDB(t), enricher, zaptest.NewLogger(t))
}

func fieldMessages(t *testing.T, err error, field string) []string {
	t.Helper()
	appErr, ok := apperror.FromError(err)
	require.True(t, ok, "expected *AppError, got %v", err)
	return appErr.Fields[field]
}

func TestCreateUser_EnrichesProfile(t *testing.T) {
	enricher := &fakeEnricher{profiles: map[string]*enrichment.Profile{
		"ada@example.com": {FullName: "Ada Lovelace", GivenName: "Ada", Location: "London", TimeZone: "Europe/London"},
	}}
	svc := newTestService(t, enricher)

	user, err := svc.CreateUser(context.Background(), CreateUserRequest{
		Email:    "ada@EXAMPLE.com",
		Password: "analytical",
		Username: "ada",
	})
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, "Ada Lovelace", user.FullName)
	assert.Equal(t, "Ada", user.GivenName)
	assert.Equal(t, "London", user.Location)
	assert.Equal(t, "Europe/London", user.TimeZone)
	assert.False(t, user.IsStaff)
	assert.False(t, user.IsSuperuser)
	assert.Equal(t, 1, enricher.calls)
}

func TestCreateUser_EnrichmentFailureIsIgnored(t *testing.T) {
	for name, enricher := range map[string]enrichment.Enricher{
		"not found":   &fakeEnricher{},
		"provider":    &fakeEnricher{err: errors.New("connection refused")},
		"nil service": nil,
	} {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(t, enricher)
			user, err := svc.CreateUser(context.Background(), CreateUserRequest{Email: "bob@example.com", Password: "secret"})
			require.NoError(t, err)
			assert.Empty(t, user.FullName)
			assert.Empty(t, user.Location)
		})
	}
}

func TestCreateUser_RecordsSettledLookups(t *testing.T) {
	tests := []struct {
		name     string
		enricher enrichment.Enricher
		settled  bool
	}{
		{"hit", &fakeEnricher{profiles: map[string]*enrichment.Profile{"eve@example.com": {FullName: "Eve"}}}, true},
		{"miss", &fakeEnricher{}, true},
		{"provider error", &fakeEnricher{err: errors.New("timeout")}, false},
		{"disabled", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.enricher)
			user, err := svc.CreateUser(context.Background(), CreateUserRequest{Email: "eve@example.com", Password: "secret"})
			require.NoError(t, err)

			var enrichedAt sql.NullTime
			require.NoError(t, svc.db.Get(&enrichedAt, svc.db.Rebind(`SELECT enriched_at FROM users WHERE id = ?`), user.ID))
			assert.Equal(t, tt.settled, enrichedAt.Valid)
		})
	}
}

func TestCreateUser_UsernameDefaultsToEmail(t *testing.T) {
	svc := newTestService(t, nil)
	user, err := svc.CreateUser(context.Background(), CreateUserRequest{Email: "carol@Example.COM", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", user.Username)
}

func TestCreateUser_PasswordIsHashed(t *testing.T) {
	svc := newTestService(t, nil)
	user, err := svc.CreateUser(context.Background(), CreateUserRequest{Email: "dave@example.com", Password: "hunter22"})
	require.NoError(t, err)

	var stored string
	require.NoError(t, svc.db.Get(&stored, svc.db.Rebind(`SELECT password FROM users WHERE id = ?`), user.ID))
	assert.NotEqual(t, "hunter22", stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored), []byte("hunter22")))
}

func TestCreateUser_Validation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   CreateUserRequest
		field string
	}{
		{"empty email", CreateUserRequest{Password: "secret"}, "email"},
		{"malformed email", CreateUserRequest{Email: "not-an-email", Password: "secret"}, "email"},
		{"empty password", CreateUserRequest{Email: "e@example.com"}, "password"},
		{"short password", CreateUserRequest{Email: "e@example.com", Password: "abc"}, "password"},
		{"password over 72 bytes", CreateUserRequest{Email: "e@example.com", Password: strings.Repeat("é", 40)}, "password"},
		{"email over 255 characters", CreateUserRequest{Email: strings.Repeat("a", 250) + "@example.com", Password: "secret"}, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateUser(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, apperror.IsValidationError(err))
			assert.NotEmpty(t, fieldMessages(t, err, tt.field))
		})
	}
}

func TestCreateUser_Duplicates(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, CreateUserRequest{Email: "erin@example.com", Password: "secret", Username: "erin"})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, CreateUserRequest{Email: "erin@EXAMPLE.com", Password: "secret", Username: "other"})
	require.Error(t, err)
	assert.NotEmpty(t, fieldMessages(t, err, "email"))

	_, err = svc.CreateUser(ctx, CreateUserRequest{Email: "erin2@example.com", Password: "secret", Username: "erin"})
	require.Error(t, err)
	assert.NotEmpty(t, fieldMessages(t, err, "username"))
}

func TestCreateSuperuser(t *testing.T) {
	svc := newTestService(t, nil)
	user, err := svc.CreateSuperuser(context.Background(), CreateUserRequest{Email: "root@example.com", Password: "toor!"})
	require.NoError(t, err)
	assert.True(t, user.IsSuperuser)
	assert.True(t, user.IsStaff)
}

func TestUpdateUserProfile(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, CreateUserRequest{Email: "frank@example.com", Password: "secret", Username: "frank"})
	require.NoError(t, err)
	other, err := svc.CreateUser(ctx, CreateUserRequest{Email: "gina@example.com", Password: "secret", Username: "gina"})
	require.NoError(t, err)

	t.Run("username only", func(t *testing.T) {
		name := "franky"
		updated, err := svc.UpdateUserProfile(ctx, created.ID, UpdateUserProfileRequest{Username: &name})
		require.NoError(t, err)
		assert.Equal(t, "franky", updated.Username)
		assert.Equal(t, "frank@example.com", updated.Email)
	})

	t.Run("password only", func(t *testing.T) {
		pw := "new-secret"
		_, err := svc.UpdateUserProfile(ctx, created.ID, UpdateUserProfileRequest{Password: &pw})
		require.NoError(t, err)

		var stored string
		require.NoError(t, svc.db.Get(&stored, svc.db.Rebind(`SELECT password FROM users WHERE id = ?`), created.ID))
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored), []byte("new-secret")))
	})

	t.Run("empty body is a no-op", func(t *testing.T) {
		updated, err := svc.UpdateUserProfile(ctx, created.ID, UpdateUserProfileRequest{})
		require.NoError(t, err)
		assert.Equal(t, "franky", updated.Username)
	})

	t.Run("blank username", func(t *testing.T) {
		blank := "  "
		_, err := svc.UpdateUserProfile(ctx, created.ID, UpdateUserProfileRequest{Username: &blank})
		require.Error(t, err)
		assert.NotEmpty(t, fieldMessages(t, err, "username"))
	})

	t.Run("short password", func(t *testing.T) {
		pw := "abc"
		_, err := svc.UpdateUserProfile(ctx, created.ID, UpdateUserProfileRequest{Password: &pw})
		require.Error(t, err)
		assert.NotEmpty(t, fieldMessages(t, err, "password"))
	})

	t.Run("password over 72 bytes", func(t *testing.T) {
		pw := strings.Repeat("ü", 37)
		_, err := svc.UpdateUserProfile(ctx, created.ID, UpdateUserProfileRequest{Password: &pw})
		require.Error(t, err)
		assert.True(t, apperror.IsValidationError(err))
		assert.NotEmpty(t, fieldMessages(t, err, "password"))
	})

	t.Run("taken username", func(t *testing.T) {
		_, err := svc.UpdateUserProfile(ctx, created.ID, UpdateUserProfileRequest{Username: &other.Username})
		require.Error(t, err)
		assert.NotEmpty(t, fieldMessages(t, err, "username"))
	})

	t.Run("unknown user", func(t *testing.T) {
		name := "ghost"
		_, err := svc.UpdateUserProfile(ctx, 9999, UpdateUserProfileRequest{Username: &name})
		assert.True(t, apperror.IsNotFound(err))
	})
}

func TestListUsers(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	list, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	for _, email := range []string{"h@example.com", "i@example.com"} {
		_, err := svc.CreateUser(ctx, CreateUserRequest{Email: email, Password: "secret"})
		require.NoError(t, err)
	}
	list, err = svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "h@example.com", list[0].Email)
	assert.Less(t, list[0].ID, list[1].ID)
}
