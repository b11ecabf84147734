// Package bootstrap wires the runtime dependencies shared by the commands.
package bootstrap

import (
	"fmt"
	"log"

	"messenger/internal/cache"
	"messenger/internal/config"
	"messenger/internal/database"
	"messenger/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemoData fills an empty development database with demo chats.
	SeedDemoData bool
}

// InitRuntime connects to DB and Redis and optionally seeds demo data.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if opts.SeedDemoData {
		if err := seedIfEmpty(cfg, db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, r, nil
}

func seedIfEmpty(cfg *config.Config, db *gorm.DB) error {
	if cfg.IsProduction() {
		return nil
	}
	var users int64
	if err := db.Table("users").Count(&users).Error; err != nil {
		return err
	}
	if users > 0 {
		return nil
	}
	if _, err := seed.Seed(db, seed.DefaultOptions()); err != nil {
		return err
	}
	log.Printf("demo data seeded into empty %s database", cfg.DBDriver)
	return nil
}
