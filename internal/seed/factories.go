package seed

import (
	"fmt"
	"log"
	"time"

	"messenger/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by Seed and tests.
type Factory struct {
	db    *gorm.DB
	opts  Options
	faker *gofakeit.Faker
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a new Factory bound to db. A zero opts.RandSeed seeds
// from the clock.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{db: db, opts: opts, faker: gofakeit.New(seed), nextID: 1000}
}

func (f *Factory) syntheticID() uint {
	f.nextID++
	return f.nextID
}

// CreateUser persists a user with a generated unique username.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	user := &models.User{
		Username: fmt.Sprintf("%s%d", f.faker.Username(), f.faker.Number(100, 999)),
	}
	for _, override := range overrides {
		override(user)
	}

	if f.opts.DryRun {
		user.ID = f.syntheticID()
		log.Printf("[dry-run] CreateUser: %s", user.Username)
		return user, nil
	}
	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// CreateChat persists a chat with the given members. Group chats get a
// generated name unless an override sets one.
func (f *Factory) CreateChat(isGroup bool, creator *models.User, members []*models.User, overrides ...func(*models.Chat)) (*models.Chat, error) {
	chat := &models.Chat{IsGroup: isGroup, CreatedBy: creator.ID}
	if isGroup {
		name := f.faker.Hobby()
		chat.Name = &name
	}
	for _, override := range overrides {
		override(chat)
	}

	if f.opts.DryRun {
		chat.ID = f.syntheticID()
		log.Printf("[dry-run] CreateChat: group=%v members=%d", chat.IsGroup, len(members))
		return chat, nil
	}

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chat).Error; err != nil {
			return err
		}
		rows := make([]models.ChatMember, 0, len(members))
		for _, m := range members {
			rows = append(rows, models.ChatMember{ChatID: chat.ID, UserID: m.ID})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// CreateMessage persists a text message from sender in chat.
func (f *Factory) CreateMessage(chat *models.Chat, sender *models.User, overrides ...func(*models.Message)) (*models.Message, error) {
	msg := &models.Message{
		ChatID:  chat.ID,
		UserID:  sender.ID,
		Content: f.faker.Sentence(f.faker.Number(3, 14)),
	}
	for _, override := range overrides {
		override(msg)
	}

	if f.opts.DryRun {
		msg.ID = f.syntheticID()
		return msg, nil
	}
	if err := f.db.Omit(clause.Associations).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

// CreateReaction persists a random reaction from user on msg.
func (f *Factory) CreateReaction(msg *models.Message, user *models.User) (*models.Reaction, error) {
	kinds := []models.ReactionKind{models.ReactionLike, models.ReactionHeart, models.ReactionDislike, models.ReactionLaugh}
	reaction := &models.Reaction{
		MessageID: msg.ID,
		UserID:    user.ID,
		Kind:      kinds[f.faker.Number(0, len(kinds)-1)],
	}

	if f.opts.DryRun {
		reaction.ID = f.syntheticID()
		return reaction, nil
	}
	if err := f.db.Clauses(clause.OnConflict{DoNothing: true}).Create(reaction).Error; err != nil {
		return nil, err
	}
	return reaction, nil
}

// MarkRead stores user's watermark for chat at messageID.
func (f *Factory) MarkRead(chat *models.Chat, user *models.User, messageID uint) error {
	if f.opts.DryRun {
		return nil
	}
	wm := models.ReadWatermark{ChatID: chat.ID, UserID: user.ID, LastViewedMessageID: messageID, UpdatedAt: time.Now()}
	return f.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_viewed_message_id", "updated_at"}),
	}).Create(&wm).Error
}
