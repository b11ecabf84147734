// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"testing"

	"messenger/internal/database"
	"messenger/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens an isolated in-memory SQLite database with the full schema.
// A single connection serializes writers the way a real store would.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// CreateUsers inserts one user per name and returns them in order.
func CreateUsers(t *testing.T, db *gorm.DB, names ...string) []models.User {
	t.Helper()
	users := make([]models.User, 0, len(names))
	for _, name := range names {
		u := models.User{Username: name}
		require.NoError(t, db.Create(&u).Error)
		users = append(users, u)
	}
	return users
}

// CreateChat inserts a chat and its memberships directly.
func CreateChat(t *testing.T, db *gorm.DB, isGroup bool, name *string, createdBy uint, members ...uint) models.Chat {
	t.Helper()
	chat := models.Chat{Name: name, IsGroup: isGroup, CreatedBy: createdBy}
	require.NoError(t, db.Create(&chat).Error)
	for _, m := range members {
		require.NoError(t, db.Create(&models.ChatMember{ChatID: chat.ID, UserID: m}).Error)
	}
	return chat
}
