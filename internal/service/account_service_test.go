package service

import (
	"context"
	"testing"

	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/careerpilot/careerpilot/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAccountService(t *testing.T) (*AccountService, *repository.MemoryStore) {
	t.Helper()
	_, client := newRedis(t)
	store := repository.NewMemoryStore()
	svc := NewAccountService(store, testJWT(t), NewResetGrants(client), NewRefreshTokenService(client, testLogger()), testLogger())
	svc.cost = bcrypt.MinCost
	return svc, store
}

func TestAccountService_RegisterAndAuthenticate(t *testing.T) {
	svc, _ := newAccountService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Name: " Ada ", Email: "Ada@X.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "ada@x.com", user.Email)
	assert.Equal(t, "Ada", user.Name)
	assert.False(t, user.IsEmailVerified())

	_, err = svc.Register(ctx, RegisterInput{Email: "ada@x.com", Password: "secret2"})
	assert.ErrorIs(t, err, ErrUserExists)

	got, err := svc.Authenticate(ctx, "ADA@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, "ada@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@x.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAccountService_ResetPassword(t *testing.T) {
	svc, _ := newAccountService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "old-pass"})
	require.NoError(t, err)

	grant, err := svc.jwt.GenerateResetToken(user.ID, user.Email)
	require.NoError(t, err)
	require.NoError(t, svc.ResetPassword(ctx, grant, "new-pass"))

	_, err = svc.Authenticate(ctx, "a@x.com", "old-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "a@x.com", "new-pass")
	assert.NoError(t, err)

	pair, _, _, err := svc.jwt.GenerateTokenPair(user.ID, user.Email, "")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.ResetPassword(ctx, pair.AccessToken, "x-pass"), ErrInvalidResetToken)
	assert.ErrorIs(t, svc.ResetPassword(ctx, "garbage", "x-pass"), ErrInvalidResetToken)

	ghost, err := svc.jwt.GenerateResetToken("ghost", "ghost@x.com")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.ResetPassword(ctx, ghost, "x-pass"), ErrInvalidResetToken)
}

func TestAccountService_Profile(t *testing.T) {
	svc, _ := newAccountService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@x.com", Password: "secret1"})
	require.NoError(t, err)

	phone := "+15550100"
	updated, err := svc.UpdateProfile(ctx, user.ID, models.ProfileUpdate{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "A", updated.Name)
	assert.Equal(t, phone, updated.Phone)
	assert.Nil(t, updated.Profile)

	company, years := "Acme", 4
	updated, err = svc.UpdateProfile(ctx, user.ID, models.ProfileUpdate{TargetCompany: &company, YearsExperience: &years})
	require.NoError(t, err)
	require.NotNil(t, updated.Profile)
	assert.Equal(t, "Acme", updated.Profile.TargetCompany)
	assert.Equal(t, 4, updated.Profile.YearsExperience)

	onboarded := true
	updated, err = svc.UpdateProfile(ctx, user.ID, models.ProfileUpdate{Skills: []string{"go", "sql"}, Onboarded: &onboarded})
	require.NoError(t, err)
	assert.Equal(t, "Acme", updated.Profile.TargetCompany)
	assert.Equal(t, []string{"go", "sql"}, updated.Profile.Skills)
	assert.True(t, updated.Profile.Onboarded)

	unchanged, err := svc.UpdateProfile(ctx, user.ID, models.ProfileUpdate{})
	require.NoError(t, err)
	assert.Equal(t, updated.Profile, unchanged.Profile)

	_, err = svc.Profile(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.UpdateProfile(ctx, "missing", models.ProfileUpdate{Phone: &phone})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAccountService_ResetGrantIsSingleUse(t *testing.T) {
	svc, _ := newAccountService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "old-pass"})
	require.NoError(t, err)

	sessions := svc.sessions.(*RefreshTokenService)
	_, refresh, familyID, err := svc.jwt.GenerateTokenPair(user.ID, user.Email, "")
	require.NoError(t, err)
	require.NoError(t, sessions.Store(ctx, refresh.JTI, user.ID, user.Email, familyID, refresh.ExpiresAt.Time))

	grant, err := svc.jwt.GenerateResetToken(user.ID, user.Email)
	require.NoError(t, err)
	require.NoError(t, svc.ResetPassword(ctx, grant, "new-pass"))
	assert.ErrorIs(t, svc.ResetPassword(ctx, grant, "evil-pass"), ErrInvalidResetToken)

	_, err = svc.Authenticate(ctx, "a@x.com", "new-pass")
	assert.NoError(t, err)
	_, err = svc.Authenticate(ctx, "a@x.com", "evil-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	revoked, err := sessions.IsRevoked(ctx, refresh.JTI)
	require.NoError(t, err)
	assert.True(t, revoked)
}
