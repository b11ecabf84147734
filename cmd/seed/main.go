// Command seed fills the database with demo users, chats and history.
package main

import (
	"flag"
	"log"
	"slices"
	"time"

	"messenger/internal/config"
	"messenger/internal/database"
	"messenger/internal/middleware"
	"messenger/internal/seed"
)

func main() {
	opts := seed.DefaultOptions()
	flag.IntVar(&opts.NumUsers, "users", opts.NumUsers, "Number of users to create")
	flag.IntVar(&opts.NumGroups, "groups", opts.NumGroups, "Number of group chats to create")
	flag.IntVar(&opts.MessagesPerChat, "messages", opts.MessagesPerChat, "Messages per chat")
	flag.BoolVar(&opts.ShouldClean, "clean", true, "Clean database before seeding")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "Generate data without writing it")
	flag.Int64Var(&opts.RandSeed, "seed", 0, "Random seed (0 uses the clock)")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of the printed tokens")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	res, err := seed.Seed(db, opts)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	// Tokens for the fixed users so the API can be tried right away.
	auth := middleware.NewAuthenticator(cfg, nil)
	for _, u := range res.Users {
		if !slices.Contains(opts.BaseUsernames, u.Username) {
			continue
		}
		token, err := auth.IssueToken(u.ID, *tokenTTL)
		if err != nil {
			log.Fatalf("❌ Issuing token for %s: %v", u.Username, err)
		}
		log.Printf("🔑 %s (id %d): %s", u.Username, u.ID, token)
	}

	log.Println("✨ All done! Your database is now populated with test data.")
}
