package database

import (
	"path/filepath"
	"testing"

	"messenger/internal/config"
	"messenger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialector(t *testing.T) {
	tests := []struct {
		name     string
		driver   string
		wantName string
		wantErr  bool
	}{
		{"postgres", "postgres", "postgres", false},
		{"default is postgres", "", "postgres", false},
		{"sqlite", "sqlite", "sqlite", false},
		{"case insensitive", "SQLite", "sqlite", false},
		{"unknown", "oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Dialector(&config.Config{DBDriver: tt.driver, DBSQLitePath: "x.db"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, d.Name())
		})
	}
}

func TestConnect_SQLiteMigrates(t *testing.T) {
	cfg := &config.Config{
		Env:          "test",
		DBDriver:     "sqlite",
		DBSQLitePath: filepath.Join(t.TempDir(), "messenger.db"),
	}

	db, err := Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	for _, model := range PersistentModels() {
		assert.True(t, db.Migrator().HasTable(model), "%T should be migrated", model)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	assert.True(t, db.Migrator().HasIndex(&models.Reaction{}, "idx_reactions_unique"))
}
