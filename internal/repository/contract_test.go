package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go-quest-session/internal/model"
)

type userRepo interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByUsername(ctx context.Context, username string) (model.User, error)
	Create(ctx context.Context, u model.User) error
	MarkVerified(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error
}

type tokenRepo interface {
	Store(ctx context.Context, tokenID string, userID string, expiresAt time.Time) error
	Validate(ctx context.Context, tokenID string) (string, error)
	RevokeAllForUser(ctx context.Context, userID string) error
	CleanExpired(ctx context.Context) (int64, error)
}

type codeRepo interface {
	Upsert(ctx context.Context, c model.OneTimeCode) error
	Find(ctx context.Context, userID string, purpose string) (model.OneTimeCode, error)
	Delete(ctx context.Context, userID string, purpose string) error
}

func newTestUser() model.User {
	suffix := uuid.NewString()[:8]
	now := time.Now().UTC().Truncate(time.Millisecond)
	return model.User{
		ID:           uuid.NewString(),
		Username:     "hero-" + suffix,
		Email:        "hero-" + suffix + "@quests.test",
		PasswordHash: "hash",
		Role:         model.RoleUser,
		XP:           120,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func runUserRepoContract(t *testing.T, repo userRepo) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		u := newTestUser()
		require.NoError(t, repo.Create(ctx, u))

		byID, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, u.Email, byID.Email)
		require.Equal(t, 2, byID.Level())

		byEmail, err := repo.FindByEmail(ctx, "  "+u.Email+" ")
		require.NoError(t, err)
		require.Equal(t, u.ID, byEmail.ID)

		byName, err := repo.FindByUsername(ctx, u.Username)
		require.NoError(t, err)
		require.Equal(t, u.ID, byName.ID)
	})

	t.Run("duplicate email or username", func(t *testing.T) {
		u := newTestUser()
		require.NoError(t, repo.Create(ctx, u))

		sameEmail := newTestUser()
		sameEmail.Email = u.Email
		require.ErrorIs(t, repo.Create(ctx, sameEmail), model.ErrUserAlreadyExists)

		sameName := newTestUser()
		sameName.Username = u.Username
		require.ErrorIs(t, repo.Create(ctx, sameName), model.ErrUserAlreadyExists)
	})

	t.Run("verify and change password", func(t *testing.T) {
		u := newTestUser()
		require.NoError(t, repo.Create(ctx, u))

		require.NoError(t, repo.MarkVerified(ctx, u.ID))
		require.NoError(t, repo.UpdatePassword(ctx, u.ID, "new-hash"))

		got, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		require.True(t, got.IsVerified)
		require.Equal(t, "new-hash", got.PasswordHash)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.NewString())
		require.ErrorIs(t, err, model.ErrUserNotFound)
		_, err = repo.FindByEmail(ctx, "nobody@quests.test")
		require.ErrorIs(t, err, model.ErrUserNotFound)
		require.ErrorIs(t, repo.MarkVerified(ctx, uuid.NewString()), model.ErrUserNotFound)
	})
}

func runTokenRepoContract(t *testing.T, users userRepo, repo tokenRepo) {
	ctx := context.Background()
	u := newTestUser()
	require.NoError(t, users.Create(ctx, u))

	live := uuid.NewString()
	expired := uuid.NewString()
	require.NoError(t, repo.Store(ctx, live, u.ID, time.Now().Add(time.Hour)))
	require.NoError(t, repo.Store(ctx, expired, u.ID, time.Now().Add(-time.Minute)))

	userID, err := repo.Validate(ctx, live)
	require.NoError(t, err)
	require.Equal(t, u.ID, userID)

	_, err = repo.Validate(ctx, expired)
	require.ErrorIs(t, err, model.ErrTokenNotFound)

	removed, err := repo.CleanExpired(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, removed, int64(1))

	require.NoError(t, repo.RevokeAllForUser(ctx, u.ID))
	_, err = repo.Validate(ctx, live)
	require.ErrorIs(t, err, model.ErrTokenNotFound)
}

func runCodeRepoContract(t *testing.T, users userRepo, repo codeRepo) {
	ctx := context.Background()
	u := newTestUser()
	require.NoError(t, users.Create(ctx, u))

	now := time.Now().UTC().Truncate(time.Millisecond)
	first := model.OneTimeCode{UserID: u.ID, Purpose: model.CodePurposeVerifyEmail, CodeHash: "h1", ExpiresAt: now.Add(time.Minute), CreatedAt: now}
	require.NoError(t, repo.Upsert(ctx, first))

	second := first
	second.CodeHash = "h2"
	require.NoError(t, repo.Upsert(ctx, second))

	got, err := repo.Find(ctx, u.ID, model.CodePurposeVerifyEmail)
	require.NoError(t, err)
	require.Equal(t, "h2", got.CodeHash)

	_, err = repo.Find(ctx, u.ID, model.CodePurposeResetPassword)
	require.ErrorIs(t, err, model.ErrCodeNotFound)

	require.NoError(t, repo.Delete(ctx, u.ID, model.CodePurposeVerifyEmail))
	_, err = repo.Find(ctx, u.ID, model.CodePurposeVerifyEmail)
	require.ErrorIs(t, err, model.ErrCodeNotFound)
}
