package services

import (
	"context"
	"errors"
	"testing"

	"assessapp/internal/models"
	contextutils "assessapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_RegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.users.Register(ctx, &models.RegisterRequest{Username: "alice", Password: "correct-horse", Email: "alice@example.com", Timezone: "Europe/Berlin"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.NotEqual(t, "correct-horse", u.PasswordHash)
	require.NotNil(t, u.Email)
	assert.Contains(t, f.activity.types(), models.ActivityUserRegistered)

	got, err := f.users.Authenticate(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = f.users.Authenticate(ctx, "alice", "wrong-password")
	assert.True(t, errors.Is(err, contextutils.ErrInvalidCredentials))
	_, err = f.users.Authenticate(ctx, "nobody", "whatever1")
	assert.True(t, errors.Is(err, contextutils.ErrInvalidCredentials))

	_, err = f.users.Register(ctx, &models.RegisterRequest{Username: "alice", Password: "another-pass"})
	assert.True(t, errors.Is(err, contextutils.ErrRecordExists))
}

func TestUserService_RegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.RegisterRequest
	}{
		{"short password", models.RegisterRequest{Username: "bob", Password: "short"}},
		{"bad username", models.RegisterRequest{Username: "b o b", Password: "password123"}},
		{"too short username", models.RegisterRequest{Username: "bo", Password: "password123"}},
		{"bad email", models.RegisterRequest{Username: "bob", Password: "password123", Email: "not-an-email"}},
		{"bad timezone", models.RegisterRequest{Username: "bob", Password: "password123", Timezone: "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.users.Register(ctx, &tt.req)
			assert.True(t, errors.Is(err, contextutils.ErrInvalidInput), "got %v", err)
		})
	}
}

type recordingRevoker struct {
	dropped []uint
}

func (r *recordingRevoker) DisconnectUser(userID uint) int {
	r.dropped = append(r.dropped, userID)
	return 1
}

func TestUserService_RoleChangeDropsConnections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	revoker := &recordingRevoker{}
	f.users.WithConnectionRevoker(revoker)

	root := f.user(t, "root")
	u := f.user(t, "alice")

	_, err := f.users.UpdateRole(ctx, root.ID, u.ID, models.RoleAdmin)
	require.NoError(t, err)
	_, err = f.users.UpdateRole(ctx, root.ID, u.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, []uint{u.ID}, revoker.dropped, "unchanged role keeps the sockets")

	_, err = f.users.UpdateRole(ctx, root.ID, u.ID, models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, []uint{u.ID, u.ID}, revoker.dropped)

	_, err = f.users.UpdateRole(ctx, root.ID, 9999, models.RoleUser)
	assert.True(t, errors.Is(err, contextutils.ErrRecordNotFound))
	assert.Len(t, revoker.dropped, 2)
}

func TestUserService_Roles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.users.EnsureAdminUser(ctx, "root", "rootpassword"))
	admin, err := f.users.GetUserByUsername(ctx, "root")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	require.NoError(t, f.users.EnsureAdminUser(ctx, "root", "rootpassword"), "idempotent")
	require.NoError(t, f.users.EnsureAdminUser(ctx, "", ""), "no credentials configured")

	u := f.user(t, "alice")
	promoted, err := f.users.UpdateRole(ctx, admin.ID, u.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, promoted.IsAdmin())

	_, err = f.users.UpdateRole(ctx, admin.ID, admin.ID, models.RoleUser)
	assert.True(t, errors.Is(err, contextutils.ErrForbidden))
	_, err = f.users.UpdateRole(ctx, admin.ID, u.ID, models.Role("owner"))
	assert.True(t, errors.Is(err, contextutils.ErrInvalidInput))

	users, err := f.users.ListUsers(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, f.users.Touch(ctx, u.ID))
	got, err := f.users.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastActiveAt)
}
