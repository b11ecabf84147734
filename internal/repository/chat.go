// Package repository implements the durable store and membership directory on top of GORM.
package repository

import (
	"context"
	"errors"

	"messenger/internal/models"
	"messenger/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository defines the interface for chat data operations
type ChatRepository interface {
	// Transaction runs fn against a repository bound to a single transaction.
	Transaction(ctx context.Context, fn func(repo ChatRepository) error) error

	InsertChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, id uint) (*models.Chat, error)
	InsertMembership(ctx context.Context, chatID, userID uint) error
	FindExistingPrivateChat(ctx context.Context, userA, userB uint) (*models.Chat, error)
	ListChatsForUser(ctx context.Context, userID uint) ([]models.ChatSummary, error)

	InsertMessage(ctx context.Context, msg *models.Message) error
	InsertMediaRef(ctx context.Context, media *models.MediaFile) error
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	ListMessages(ctx context.Context, chatID, beforeID uint, limit int) ([]*models.Message, error)
	ToggleReaction(ctx context.Context, messageID, userID uint, kind models.ReactionKind) (*models.Reaction, bool, error)
	UpsertReadWatermark(ctx context.Context, chatID, userID, messageID uint) error

	MembershipDirectory
}

// MembershipDirectory answers who belongs to which chat. Every answer comes
// from the store; nothing is cached.
type MembershipDirectory interface {
	IsMember(ctx context.Context, chatID, userID uint) (bool, error)
	ListMembers(ctx context.Context, chatID uint) ([]uint, error)
	ListOtherMembers(ctx context.Context, chatID, userID uint) ([]uint, error)
}

// chatRepository implements ChatRepository
type chatRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db, log: observability.NewRepoLogger("chats")}
}

func (r *chatRepository) Transaction(ctx context.Context, fn func(repo ChatRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&chatRepository{db: tx, log: r.log})
	})
}

func (r *chatRepository) InsertChat(ctx context.Context, chat *models.Chat) error {
	defer observability.TrackQuery("insert", "chats")()
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		r.log.LogError(ctx, err, "insert_chat")
		return err
	}
	r.log.LogCreate(ctx, map[string]any{"chat_id": chat.ID, "is_group": chat.IsGroup})
	return nil
}

func (r *chatRepository) GetChat(ctx context.Context, id uint) (*models.Chat, error) {
	defer observability.TrackQuery("select", "chats")()
	var chat models.Chat
	if err := r.db.WithContext(ctx).First(&chat, id).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepository) InsertMembership(ctx context.Context, chatID, userID uint) error {
	defer observability.TrackQuery("insert", "chat_members")()
	member := models.ChatMember{ChatID: chatID, UserID: userID}
	// Existing memberships are left untouched.
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error
}

// FindExistingPrivateChat returns the non-group chat whose members are exactly
// userA and userB, or nil when there is none.
func (r *chatRepository) FindExistingPrivateChat(ctx context.Context, userA, userB uint) (*models.Chat, error) {
	defer observability.TrackQuery("select", "chats")()
	var existing models.Chat
	err := r.db.WithContext(ctx).
		Model(&models.Chat{}).
		Joins("JOIN chat_members cm_self ON cm_self.chat_id = chats.id AND cm_self.user_id = ?", userA).
		Joins("JOIN chat_members cm_other ON cm_other.chat_id = chats.id AND cm_other.user_id = ?", userB).
		Where("chats.is_group = ?", false).
		Where(
			"NOT EXISTS (SELECT 1 FROM chat_members cm_extra WHERE cm_extra.chat_id = chats.id AND cm_extra.user_id NOT IN (?, ?))",
			userA, userB,
		).
		Order("chats.id ASC").
		First(&existing).Error
	switch {
	case err == nil:
		return &existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		r.log.LogError(ctx, err, "find_private_chat")
		return nil, err
	}
}

const listChatsForUserSQL = `
SELECT chats.id, chats.name, chats.is_group, chats.created_by, chats.created_at,
	(SELECT COUNT(*) FROM messages m
	 WHERE m.chat_id = chats.id
	   AND m.id > COALESCE((SELECT rw.last_viewed_message_id FROM read_watermarks rw
	                        WHERE rw.chat_id = chats.id AND rw.user_id = ?), 0)
	) AS unread_count
FROM chats
JOIN chat_members cm ON cm.chat_id = chats.id AND cm.user_id = ?
ORDER BY chats.created_at DESC, chats.id DESC`

// ListChatsForUser returns every chat userID belongs to, newest first, with
// the number of messages past the user's read watermark.
func (r *chatRepository) ListChatsForUser(ctx context.Context, userID uint) ([]models.ChatSummary, error) {
	defer observability.TrackQuery("select", "chats")()
	var chats []models.ChatSummary
	if err := r.db.WithContext(ctx).Raw(listChatsForUserSQL, userID, userID).Scan(&chats).Error; err != nil {
		r.log.LogError(ctx, err, "list_chats_for_user")
		return nil, err
	}
	if chats == nil {
		chats = []models.ChatSummary{}
	}
	return chats, nil
}

func (r *chatRepository) IsMember(ctx context.Context, chatID, userID uint) (bool, error) {
	defer observability.TrackQuery("select", "chat_members")()
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ChatMember{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *chatRepository) ListMembers(ctx context.Context, chatID uint) ([]uint, error) {
	defer observability.TrackQuery("select", "chat_members")()
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.ChatMember{}).
		Where("chat_id = ?", chatID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *chatRepository) ListOtherMembers(ctx context.Context, chatID, userID uint) ([]uint, error) {
	defer observability.TrackQuery("select", "chat_members")()
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.ChatMember{}).
		Where("chat_id = ? AND user_id <> ?", chatID, userID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}
