package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"messenger/internal/models"
	"messenger/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return gormDB, mock
}

func TestUserRepository_GetUsername(t *testing.T) {
	db, mock := setupMockDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	repo := NewUserRepository(db, rdb)
	ctx := context.Background()

	query := regexp.QuoteMeta(`SELECT "id","username" FROM "users" WHERE "users"."id" = $1 ORDER BY "users"."id" LIMIT $2`)

	tests := []struct {
		name          string
		userID        uint
		mockBehavior  func()
		expected      string
		expectedError bool
	}{
		{
			name:   "Success",
			userID: 1,
			mockBehavior: func() {
				rows := sqlmock.NewRows([]string{"id", "username"}).AddRow(1, "alice")
				mock.ExpectQuery(query).WithArgs(1, 1).WillReturnRows(rows)
			},
			expected: "alice",
		},
		{
			name:         "Cached",
			userID:       1,
			mockBehavior: func() {},
			expected:     "alice",
		},
		{
			name:   "Not Found",
			userID: 99,
			mockBehavior: func() {
				mock.ExpectQuery(query).WithArgs(99, 1).WillReturnError(gorm.ErrRecordNotFound)
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockBehavior()
			username, err := repo.GetUsername(ctx, tt.userID)

			if tt.expectedError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, username)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_CreateDuplicate(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "users"`)).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "idx_users_username" (SQLSTATE 23505)`))

	err := repo.Create(context.Background(), &models.User{Username: "alice"})
	assert.ErrorIs(t, err, ErrDuplicateUser)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Directory(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db, nil)
	ctx := context.Background()

	users := testutil.CreateUsers(t, db, "carol", "alice", "bob")

	others, err := repo.ListOthers(ctx, users[0].ID)
	require.NoError(t, err)
	require.Len(t, others, 2)
	assert.Equal(t, "alice", others[0].Username)
	assert.Equal(t, "bob", others[1].Username)

	count, err := repo.CountExisting(ctx, []uint{users[0].ID, users[1].ID, 999})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = repo.CountExisting(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, count)

	username, err := repo.GetUsername(ctx, users[2].ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", username)
}

func TestIsUniqueConstraintError(t *testing.T) {
	assert.True(t, isUniqueConstraintError(gorm.ErrDuplicatedKey))
	assert.True(t, isUniqueConstraintError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueConstraintError(&pgconn.PgError{Code: "23503"}))
	assert.True(t, isUniqueConstraintError(errors.New("UNIQUE constraint failed: users.username")))
	assert.False(t, isUniqueConstraintError(errors.New("connection refused")))
}
