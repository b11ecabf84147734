package bootstrap

import (
	"testing"

	"messenger/internal/config"
	"messenger/internal/models"
	"messenger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedIfEmpty(t *testing.T) {
	db := testutil.NewTestDB(t)
	cfg := &config.Config{Env: "development", DBDriver: "sqlite"}

	require.NoError(t, seedIfEmpty(cfg, db))
	var users int64
	db.Model(&models.User{}).Count(&users)
	assert.Positive(t, users)

	// a populated database is left alone
	require.NoError(t, seedIfEmpty(cfg, db))
	var again int64
	db.Model(&models.User{}).Count(&again)
	assert.Equal(t, users, again)
}

func TestSeedIfEmpty_SkipsProduction(t *testing.T) {
	db := testutil.NewTestDB(t)
	require.NoError(t, seedIfEmpty(&config.Config{Env: "production"}, db))

	var users int64
	db.Model(&models.User{}).Count(&users)
	assert.Zero(t, users)
}
