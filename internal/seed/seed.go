// Package seed provides database seeding utilities for development and testing.
package seed

import (
	"fmt"
	"log"

	"messenger/internal/models"

	"gorm.io/gorm"
)

// Options configures Seed.
type Options struct {
	NumUsers          int
	NumGroups         int
	MessagesPerChat   int
	ShouldClean       bool
	DryRun            bool
	RandSeed          int64
	BaseUsernames     []string
	ReactionChancePct int
}

// DefaultOptions is a small demo dataset.
func DefaultOptions() Options {
	return Options{
		NumUsers:          12,
		NumGroups:         4,
		MessagesPerChat:   20,
		BaseUsernames:     []string{"alice", "bob", "carol"},
		ReactionChancePct: 25,
	}
}

// Result lists what Seed created.
type Result struct {
	Users    []*models.User
	Chats    []*models.Chat
	Messages int
}

// Seed populates the database with users, group and private chats, message
// history, reactions and read watermarks.
func Seed(db *gorm.DB, opts Options) (*Result, error) {
	log.Printf("🌱 Seeding %d users, %d groups, %d messages per chat", opts.NumUsers, opts.NumGroups, opts.MessagesPerChat)

	if opts.ShouldClean && !opts.DryRun {
		if err := clearData(db); err != nil {
			return nil, fmt.Errorf("clear data: %w", err)
		}
	}

	f := NewFactory(db, opts)
	res := &Result{}

	users, err := createUsers(f, opts)
	if err != nil {
		return nil, fmt.Errorf("create users: %w", err)
	}
	res.Users = users
	log.Printf("✓ %d users created", len(users))
	if len(users) < 2 {
		return res, nil
	}

	for i := 0; i < opts.NumGroups; i++ {
		creator := users[f.faker.Number(0, len(users)-1)]
		members := pickMembers(f, users, creator)
		chat, err := f.CreateChat(true, creator, members)
		if err != nil {
			return nil, fmt.Errorf("create group chat: %w", err)
		}
		res.Chats = append(res.Chats, chat)
	}

	// Every base user gets a private chat with the next one.
	for i := 0; i+1 < len(opts.BaseUsernames) && i+1 < len(users); i++ {
		a, b := users[i], users[i+1]
		chat, err := f.CreateChat(false, a, []*models.User{a, b})
		if err != nil {
			return nil, fmt.Errorf("create private chat: %w", err)
		}
		res.Chats = append(res.Chats, chat)
	}
	log.Printf("✓ %d chats created", len(res.Chats))

	for _, chat := range res.Chats {
		n, err := fillChat(db, f, chat, opts)
		if err != nil {
			return nil, fmt.Errorf("fill chat %d: %w", chat.ID, err)
		}
		res.Messages += n
	}
	log.Printf("✓ %d messages created", res.Messages)

	log.Println("🎉 Database seeding completed successfully!")
	return res, nil
}

func clearData(db *gorm.DB) error {
	log.Println("🗑️  Clearing existing data...")
	for _, table := range []string{"reactions", "media_files", "read_watermarks", "messages", "chat_members", "chats", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return err
		}
	}
	return nil
}

func createUsers(f *Factory, opts Options) ([]*models.User, error) {
	users := make([]*models.User, 0, opts.NumUsers)
	for _, name := range opts.BaseUsernames {
		if len(users) >= opts.NumUsers {
			break
		}
		u, err := f.CreateUser(func(u *models.User) { u.Username = name })
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	for len(users) < opts.NumUsers {
		u, err := f.CreateUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// pickMembers returns creator plus a random subset of the other users.
func pickMembers(f *Factory, users []*models.User, creator *models.User) []*models.User {
	members := []*models.User{creator}
	for _, u := range users {
		if u.ID != creator.ID && f.faker.Bool() {
			members = append(members, u)
		}
	}
	if len(members) == 1 {
		for _, u := range users {
			if u.ID != creator.ID {
				members = append(members, u)
				break
			}
		}
	}
	return members
}

// fillChat writes message history for chat, sprinkles reactions and leaves
// each member's watermark somewhere in the history.
func fillChat(db *gorm.DB, f *Factory, chat *models.Chat, opts Options) (int, error) {
	members, err := chatMembers(db, f, chat)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	var ids []uint
	for i := 0; i < opts.MessagesPerChat; i++ {
		sender := members[f.faker.Number(0, len(members)-1)]
		msg, err := f.CreateMessage(chat, sender)
		if err != nil {
			return 0, err
		}
		ids = append(ids, msg.ID)

		if opts.ReactionChancePct > 0 && f.faker.Number(1, 100) <= opts.ReactionChancePct {
			reactor := members[f.faker.Number(0, len(members)-1)]
			if _, err := f.CreateReaction(msg, reactor); err != nil {
				return 0, err
			}
		}
	}

	if len(ids) > 0 {
		for _, m := range members {
			if err := f.MarkRead(chat, m, ids[f.faker.Number(0, len(ids)-1)]); err != nil {
				return 0, err
			}
		}
	}
	return len(ids), nil
}

func chatMembers(db *gorm.DB, f *Factory, chat *models.Chat) ([]*models.User, error) {
	if f.opts.DryRun {
		return []*models.User{{ID: chat.CreatedBy}}, nil
	}
	var users []*models.User
	err := db.Joins("JOIN chat_members cm ON cm.user_id = users.id AND cm.chat_id = ?", chat.ID).
		Order("users.id ASC").
		Find(&users).Error
	return users, err
}
