package identity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ideaflow/internal/db"
	"ideaflow/internal/domain"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	poHash, err := HashPasswordCost("po123456", bcrypt.MinCost)
	require.NoError(t, err)
	userHash, err := HashPasswordCost("user123456", bcrypt.MinCost)
	require.NoError(t, err)
	d, err := NewDirectory([]UserRecord{
		{ID: "1", Username: "po_user", PasswordHash: poHash, Role: domain.RolePO, Name: "Product Owner"},
		{ID: "2", Username: "john_user", PasswordHash: userHash, Role: domain.RoleUser, Name: "John", Email: "john@example.com"},
	})
	require.NoError(t, err)
	return d
}

func TestDirectory_Authenticate(t *testing.T) {
	d := testDirectory(t)

	u, err := d.Authenticate("john_user", "user123456")
	require.NoError(t, err)
	assert.Equal(t, domain.User{ID: "2", Username: "john_user", Role: domain.RoleUser, Name: "John", Email: "john@example.com"}, u)

	_, err = d.Authenticate("john_user", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = d.Authenticate("nobody", "user123456")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestNewDirectory_RejectsBadRecords(t *testing.T) {
	_, err := NewDirectory([]UserRecord{{Username: "x", PasswordHash: "h", Role: "ADMIN"}})
	assert.ErrorContains(t, err, "role must be PO or USER")

	_, err = NewDirectory([]UserRecord{
		{Username: "x", PasswordHash: "h", Role: domain.RoleUser},
		{Username: "x", PasswordHash: "h", Role: domain.RoleUser},
	})
	assert.ErrorContains(t, err, "duplicate username")
}

func TestLoadDirectory_RoundTripsUsersFile(t *testing.T) {
	hash, err := HashPasswordCost("secret", bcrypt.MinCost)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, WriteUsersFile(path, []UserRecord{{ID: "7", Username: "sarah", PasswordHash: hash, Role: domain.RoleUser, Name: "Sarah"}}))

	d, err := LoadDirectory(path)
	require.NoError(t, err)
	u, err := d.Authenticate("sarah", "secret")
	require.NoError(t, err)
	assert.Equal(t, "7", u.ID)
}

func newService(t *testing.T, sessions SessionStore) (*Service, *time.Time) {
	t.Helper()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Service{
		Directory: testDirectory(t),
		Sessions:  sessions,
		Secret:    "test-secret",
		TTL:       time.Hour,
		Now:       func() time.Time { return clock },
	}, &clock
}

func TestService_LoginResolveLogout(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, NewMemorySessions())

	token, user, err := svc.Login(ctx, "po_user", "po123456")
	require.NoError(t, err)
	assert.Equal(t, domain.RolePO, user.Role)

	resolved, err := svc.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "po_user", resolved.Username)

	require.NoError(t, svc.Logout(ctx, token))
	_, err = svc.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_LoginFailures(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, NewMemorySessions())

	_, _, err := svc.Login(ctx, "", "")
	var ve domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, _, err = svc.Login(ctx, "po_user", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_RejectsForeignAndExpiredTokens(t *testing.T) {
	ctx := context.Background()
	sessions := NewMemorySessions()
	svc, clock := newService(t, sessions)

	token, _, err := svc.Login(ctx, "john_user", "user123456")
	require.NoError(t, err)

	other := *svc
	other.Secret = "different"
	_, err = other.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Resolve(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	*clock = clock.Add(2 * time.Hour)
	_, err = svc.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_UnknownSessionIsInvalid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, NewMemorySessions())
	token, _, err := svc.Login(ctx, "john_user", "user123456")
	require.NoError(t, err)

	// A fresh store has never seen the token's jti.
	fresh := *svc
	fresh.Sessions = NewMemorySessions()
	_, err = fresh.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSQLSessions(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, filepath.Join(t.TempDir(), "ideaflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	svc, _ := newService(t, SQLSessions{DB: conn})
	token, _, err := svc.Login(ctx, "john_user", "user123456")
	require.NoError(t, err)

	u, err := svc.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "john_user", u.Username)

	require.NoError(t, svc.Logout(ctx, token))
	_, err = svc.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.ErrorIs(t, SQLSessions{DB: conn}.Revoke(ctx, "missing"), ErrSessionNotFound)
}
