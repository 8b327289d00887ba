package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/db"
	"github.com/nkiryanov/pgtemplate/internal/models"
	"github.com/nkiryanov/pgtemplate/internal/query"
	"github.com/nkiryanov/pgtemplate/internal/testutil"
)

func Test_Storage(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	storage := NewStorage(query.NewCompiler())

	createUser := func(t *testing.T, s *db.Session, username string) models.User {
		u, err := storage.Users.Create(t.Context(), s, models.UserCreate{
			Username:     username,
			PasswordHash: "hash",
			IsActive:     true,
		}, false)
		require.NoError(t, err)
		return u
	}

	createPair := func(t *testing.T, s *db.Session, userID uuid.UUID) (access models.Token, refresh models.Token) {
		baseID := uuid.New()
		now := time.Now().UTC().Truncate(time.Microsecond)

		tokens, err := storage.Tokens.BulkCreateWithReturn(t.Context(), s, []any{
			models.TokenCreate{ID: uuid.New(), BaseID: baseID, UserID: userID, TokenType: models.TokenAccess, IssuedAt: now},
			models.TokenCreate{ID: uuid.New(), BaseID: baseID, UserID: userID, TokenType: models.TokenRefresh, IssuedAt: now},
		}, false)
		require.NoError(t, err)
		require.Len(t, tokens, 2)
		return tokens[0], tokens[1]
	}

	t.Run("get user by username is case insensitive", func(t *testing.T) {
		testutil.WithSession(pg.Pool, t, func(s *db.Session) {
			alice := createUser(t, s, "Alice")

			got, err := storage.Users.GetByUsername(t.Context(), s, "ALICE")
			require.NoError(t, err)
			none, err := storage.Users.GetByUsernameOrNone(t.Context(), s, "bob")
			require.NoError(t, err)

			assert.Equal(t, alice.ID, got.ID)
			assert.Nil(t, none)
		})
	})

	t.Run("get user by id not found", func(t *testing.T) {
		testutil.WithSession(pg.Pool, t, func(s *db.Session) {
			_, err := storage.Users.GetByID(t.Context(), s, uuid.New())

			require.ErrorIs(t, err, apperrors.ErrNotFound)
		})
	})

	t.Run("patch by id returns new state", func(t *testing.T) {
		testutil.WithSession(pg.Pool, t, func(s *db.Session) {
			alice := createUser(t, s, "alice")

			got, err := storage.Users.PatchByID(t.Context(), s, alice.ID, map[string]any{"is_admin": true}, true)

			require.NoError(t, err)
			assert.True(t, got.IsAdmin)
			assert.False(t, s.InTx())
		})
	})

	t.Run("lookup respects token type", func(t *testing.T) {
		testutil.WithSession(pg.Pool, t, func(s *db.Session) {
			alice := createUser(t, s, "alice")
			access, refresh := createPair(t, s, alice.ID)

			got, err := storage.Tokens.Lookup(t.Context(), s, access.ID, models.TokenAccess)
			require.NoError(t, err)
			wrongType, err := storage.Tokens.Lookup(t.Context(), s, refresh.ID, models.TokenAccess)
			require.NoError(t, err)

			require.NotNil(t, got)
			assert.Equal(t, access, *got)
			assert.Nil(t, wrongType)
		})
	})

	t.Run("pair is unique per base", func(t *testing.T) {
		testutil.WithSession(pg.Pool, t, func(s *db.Session) {
			alice := createUser(t, s, "alice")
			access, _ := createPair(t, s, alice.ID)

			_, err := storage.Tokens.Create(t.Context(), s, models.TokenCreate{
				ID:        uuid.New(),
				BaseID:    access.BaseID,
				UserID:    alice.ID,
				TokenType: models.TokenAccess,
				IssuedAt:  time.Now(),
			}, false)

			require.ErrorIs(t, err, apperrors.ErrConflict)
		})
	})

	t.Run("delete base removes both halves only", func(t *testing.T) {
		testutil.WithSession(pg.Pool, t, func(s *db.Session) {
			alice := createUser(t, s, "alice")
			access, _ := createPair(t, s, alice.ID)
			other, _ := createPair(t, s, alice.ID)

			n, err := storage.Tokens.DeleteBase(t.Context(), s, access.BaseID, false)
			require.NoError(t, err)
			again, err := storage.Tokens.DeleteBase(t.Context(), s, access.BaseID, false)
			require.NoError(t, err)
			left, err := storage.Tokens.Count(t.Context(), s, nil)
			require.NoError(t, err)

			assert.EqualValues(t, 2, n)
			assert.Zero(t, again)
			assert.EqualValues(t, 2, left)
			got, err := storage.Tokens.Lookup(t.Context(), s, other.ID, models.TokenAccess)
			require.NoError(t, err)
			assert.NotNil(t, got)
		})
	})

	t.Run("delete issued before", func(t *testing.T) {
		testutil.WithSession(pg.Pool, t, func(s *db.Session) {
			alice := createUser(t, s, "alice")
			access, _ := createPair(t, s, alice.ID)

			n, err := storage.Tokens.DeleteIssuedBefore(t.Context(), s, access.IssuedAt, false)
			require.NoError(t, err)
			assert.Zero(t, n, "rows issued exactly at the moment are kept")

			n, err = storage.Tokens.DeleteIssuedBefore(t.Context(), s, access.IssuedAt.Add(time.Microsecond), false)
			require.NoError(t, err)
			assert.EqualValues(t, 2, n)
		})
	})

	t.Run("deleting users cascades to tokens", func(t *testing.T) {
		testutil.WithSession(pg.Pool, t, func(s *db.Session) {
			alice := createUser(t, s, "alice")
			bob := createUser(t, s, "bob")
			createPair(t, s, alice.ID)
			createPair(t, s, bob.ID)

			n, err := storage.Users.DeleteByIDs(t.Context(), s, []uuid.UUID{alice.ID}, false)
			require.NoError(t, err)
			left, err := storage.Tokens.Count(t.Context(), s, nil)
			require.NoError(t, err)

			assert.EqualValues(t, 1, n)
			assert.EqualValues(t, 2, left)
		})
	})
}
