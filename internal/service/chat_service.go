// Package service provides the chat business logic: validation, membership
// checks and persistence. Fanout is left to the caller.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"messenger/internal/cache"
	"messenger/internal/models"
	"messenger/internal/repository"
	"messenger/internal/storage"
	"messenger/internal/validation"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// ChatService provides chat lifecycle and messaging operations.
type ChatService struct {
	chatRepo       repository.ChatRepository
	userRepo       repository.UserRepository
	media          storage.MediaStore
	redis          *redis.Client
	maxUploadBytes int64
	pairLocks      StripedMutex
}

// NewChatService returns a new ChatService. media and rdb may be nil.
func NewChatService(
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	media storage.MediaStore,
	rdb *redis.Client,
	maxUploadBytes int64,
) *ChatService {
	return &ChatService{
		chatRepo:       chatRepo,
		userRepo:       userRepo,
		media:          media,
		redis:          rdb,
		maxUploadBytes: maxUploadBytes,
	}
}

// CreateGroupChatInput is the input for creating a group chat.
type CreateGroupChatInput struct {
	CreatorID uint
	Name      *string
	MemberIDs []uint
}

// SendMessageInput is the input for sending a text message.
type SendMessageInput struct {
	UserID  uint
	ChatID  uint
	Content string
}

// UploadMediaInput is the input for sending a media message.
type UploadMediaInput struct {
	UserID      uint
	ChatID      uint
	Filename    string
	ContentType string
	Content     []byte
}

// MessageDelivery is everything needed to fan a persisted message out
// without further store reads.
type MessageDelivery struct {
	Message    *models.Message
	Username   string
	ChatName   string
	Recipients []uint
}

// ReactionResult describes the outcome of a reaction toggle.
type ReactionResult struct {
	ChatID   uint
	Reaction *models.Reaction
	Username string
	Added    bool
}

// storeErr wraps repository failures that are not already AppErrors.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewStoreUnavailableError(err)
}

// CreateGroupChat creates a named group chat containing the creator and the
// distinct MemberIDs. It returns the chat and its member ids as stored.
func (s *ChatService) CreateGroupChat(ctx context.Context, in CreateGroupChatInput) (*models.Chat, []uint, error) {
	name, err := validation.NormalizeChatName(in.Name)
	if err != nil {
		return nil, nil, err
	}

	members := dedupeMembers(in.CreatorID, in.MemberIDs)
	for _, id := range members {
		if id == 0 {
			return nil, nil, models.NewInvalidIntentError("member ids must be positive")
		}
	}
	existing, err := s.userRepo.CountExisting(ctx, members)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	if existing != int64(len(members)) {
		return nil, nil, models.NewInvalidIntentError("unknown member id")
	}

	chat := &models.Chat{Name: &name, IsGroup: true, CreatedBy: in.CreatorID}
	err = s.chatRepo.Transaction(ctx, func(tx repository.ChatRepository) error {
		if err := tx.InsertChat(ctx, chat); err != nil {
			return err
		}
		for _, id := range members {
			if err := tx.InsertMembership(ctx, chat.ID, id); err != nil {
				return err
			}
		}
		members, err = tx.ListMembers(ctx, chat.ID)
		return err
	})
	if err != nil {
		return nil, nil, storeErr(err)
	}
	return chat, members, nil
}

// dedupeMembers returns the creator followed by the other distinct ids in ascending order.
func dedupeMembers(creatorID uint, ids []uint) []uint {
	seen := map[uint]struct{}{creatorID: {}}
	others := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		others = append(others, id)
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })
	return append([]uint{creatorID}, others...)
}

// CreatePrivateChat returns the private chat between creator and recipient,
// creating it when none exists. created reports which happened.
func (s *ChatService) CreatePrivateChat(ctx context.Context, creatorID, recipientID uint) (chat *models.Chat, members []uint, created bool, err error) {
	if recipientID == 0 {
		return nil, nil, false, models.NewInvalidIntentError("recipientId is required")
	}
	if recipientID == creatorID {
		return nil, nil, false, models.NewInvalidIntentError("cannot start a private chat with yourself")
	}
	n, err := s.userRepo.CountExisting(ctx, []uint{recipientID})
	if err != nil {
		return nil, nil, false, storeErr(err)
	}
	if n == 0 {
		return nil, nil, false, models.NewNotFoundError("User", recipientID)
	}

	unlock := s.pairLocks.Lock(pairKey(creatorID, recipientID))
	defer unlock()

	err = s.chatRepo.Transaction(ctx, func(tx repository.ChatRepository) error {
		existing, err := tx.FindExistingPrivateChat(ctx, creatorID, recipientID)
		if err != nil {
			return err
		}
		if existing != nil {
			chat = existing
		} else {
			chat = &models.Chat{IsGroup: false, CreatedBy: creatorID}
			if err := tx.InsertChat(ctx, chat); err != nil {
				return err
			}
			for _, id := range []uint{creatorID, recipientID} {
				if err := tx.InsertMembership(ctx, chat.ID, id); err != nil {
					return err
				}
			}
			created = true
		}
		members, err = tx.ListMembers(ctx, chat.ID)
		return err
	})
	if err != nil {
		return nil, nil, false, storeErr(err)
	}
	return chat, members, created, nil
}

// ListMyChats returns the user's chats, newest first, with unread counts.
func (s *ChatService) ListMyChats(ctx context.Context, userID uint) ([]models.ChatSummary, error) {
	chats, err := s.chatRepo.ListChatsForUser(ctx, userID)
	return chats, storeErr(err)
}

// EnsureMember returns Forbidden unless userID belongs to chatID.
func (s *ChatService) EnsureMember(ctx context.Context, chatID, userID uint) error {
	ok, err := s.chatRepo.IsMember(ctx, chatID, userID)
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return models.NewForbiddenError("not a member of this chat")
	}
	return nil
}

// SendMessage persists a text message after re-checking membership.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*MessageDelivery, error) {
	if err := validation.ValidateMessageContent(in.Content); err != nil {
		return nil, err
	}
	if err := s.EnsureMember(ctx, in.ChatID, in.UserID); err != nil {
		return nil, err
	}

	d, err := s.prepareDelivery(ctx, in.ChatID, in.UserID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{ChatID: in.ChatID, UserID: in.UserID, Content: in.Content}
	if err := s.chatRepo.InsertMessage(ctx, msg); err != nil {
		return nil, storeErr(err)
	}
	d.Message = msg
	return d, nil
}

// PendingMedia is an attachment already written to the media store but not
// yet recorded as a message.
type PendingMedia struct {
	UserID uint
	ChatID uint
	Key    string
	URL    string
	Kind   models.MediaKind
}

// StageMedia validates an upload and writes it to the media store.
func (s *ChatService) StageMedia(ctx context.Context, in UploadMediaInput) (*PendingMedia, error) {
	if in.ChatID == 0 {
		return nil, models.NewInvalidIntentError("chatId is required")
	}
	if len(in.Content) == 0 {
		return nil, models.NewInvalidIntentError("no file uploaded")
	}
	if s.maxUploadBytes > 0 && int64(len(in.Content)) > s.maxUploadBytes {
		return nil, models.NewInvalidIntentError(fmt.Sprintf("file too large (max %dMB)", s.maxUploadBytes/(1024*1024)))
	}
	ext, kind, err := validation.ClassifyMedia(in.Filename, in.ContentType)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureMember(ctx, in.ChatID, in.UserID); err != nil {
		return nil, err
	}
	if s.media == nil {
		return nil, models.NewInternalError(errors.New("media store not configured"))
	}

	key := uuid.NewString() + ext
	url, err := s.media.Put(ctx, key, bytes.NewReader(in.Content), int64(len(in.Content)), in.ContentType)
	if err != nil {
		return nil, models.NewStoreUnavailableError(err)
	}
	return &PendingMedia{UserID: in.UserID, ChatID: in.ChatID, Key: key, URL: url, Kind: kind}, nil
}

// CommitMedia records a staged attachment as a content-less message. The
// stored object is removed when the message cannot be persisted.
func (s *ChatService) CommitMedia(ctx context.Context, p *PendingMedia) (*MessageDelivery, error) {
	d, err := s.prepareDelivery(ctx, p.ChatID, p.UserID)
	if err != nil {
		s.DiscardMedia(ctx, p)
		return nil, err
	}

	msg := &models.Message{ChatID: p.ChatID, UserID: p.UserID}
	err = s.chatRepo.Transaction(ctx, func(tx repository.ChatRepository) error {
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		ref := models.MediaFile{MessageID: msg.ID, URL: p.URL, Kind: p.Kind}
		if err := tx.InsertMediaRef(ctx, &ref); err != nil {
			return err
		}
		msg.Media = []models.MediaFile{ref}
		return nil
	})
	if err != nil {
		s.DiscardMedia(ctx, p)
		return nil, storeErr(err)
	}
	d.Message = msg
	return d, nil
}

// DiscardMedia removes a staged object that will not be committed.
func (s *ChatService) DiscardMedia(ctx context.Context, p *PendingMedia) {
	if s.media != nil {
		_ = s.media.Delete(context.WithoutCancel(ctx), p.Key)
	}
}

// UploadMedia stages and commits an attachment in one step.
func (s *ChatService) UploadMedia(ctx context.Context, in UploadMediaInput) (*MessageDelivery, error) {
	p, err := s.StageMedia(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.CommitMedia(ctx, p)
}

// prepareDelivery gathers the author name, chat name and recipients before
// the message is written. Once the row exists the only step left is fanout.
func (s *ChatService) prepareDelivery(ctx context.Context, chatID, userID uint) (*MessageDelivery, error) {
	username, err := s.userRepo.GetUsername(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	chatName, err := s.chatName(ctx, chatID)
	if err != nil {
		return nil, err
	}
	recipients, err := s.chatRepo.ListOtherMembers(ctx, chatID, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return &MessageDelivery{
		Username:   username,
		ChatName:   chatName,
		Recipients: recipients,
	}, nil
}

// chatName returns the chat's display name, served from Redis when cached.
func (s *ChatService) chatName(ctx context.Context, chatID uint) (string, error) {
	var name string
	err := cache.CacheAside(ctx, s.redis, cache.ChatNameKey(chatID), &name, cache.ChatNameTTL, func() error {
		chat, err := s.chatRepo.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		name = chat.DisplayName()
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", models.NewNotFoundError("Chat", chatID)
	}
	return name, storeErr(err)
}

// React toggles a reaction on a message the user can see.
func (s *ChatService) React(ctx context.Context, userID, messageID uint, kind models.ReactionKind) (*ReactionResult, error) {
	if !kind.Valid() {
		return nil, models.NewInvalidIntentError(fmt.Sprintf("unknown reaction kind %q", kind))
	}
	msg, err := s.chatRepo.GetMessage(ctx, messageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Message", messageID)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if err := s.EnsureMember(ctx, msg.ChatID, userID); err != nil {
		return nil, err
	}

	reaction, added, err := s.chatRepo.ToggleReaction(ctx, messageID, userID, kind)
	if err != nil {
		return nil, storeErr(err)
	}
	username, err := s.userRepo.GetUsername(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return &ReactionResult{ChatID: msg.ChatID, Reaction: reaction, Username: username, Added: added}, nil
}

// MarkRead moves the user's read watermark for chatID to lastMessageID.
func (s *ChatService) MarkRead(ctx context.Context, userID, chatID, lastMessageID uint) error {
	if err := s.EnsureMember(ctx, chatID, userID); err != nil {
		return err
	}
	return storeErr(s.chatRepo.UpsertReadWatermark(ctx, chatID, userID, lastMessageID))
}

// History returns a page of messages older than beforeID (newest page when
// zero) in ascending order, plus display names for every author and reactor.
func (s *ChatService) History(ctx context.Context, userID, chatID, beforeID uint, limit int) ([]*models.Message, map[uint]string, error) {
	if err := s.EnsureMember(ctx, chatID, userID); err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	messages, err := s.chatRepo.ListMessages(ctx, chatID, beforeID, limit)
	if err != nil {
		return nil, nil, storeErr(err)
	}

	names := make(map[uint]string)
	resolve := func(id uint) error {
		if _, ok := names[id]; ok {
			return nil
		}
		name, err := s.userRepo.GetUsername(ctx, id)
		if err != nil {
			return storeErr(err)
		}
		names[id] = name
		return nil
	}
	for _, m := range messages {
		if err := resolve(m.UserID); err != nil {
			return nil, nil, err
		}
		for _, r := range m.Reactions {
			if err := resolve(r.UserID); err != nil {
				return nil, nil, err
			}
		}
	}
	return messages, names, nil
}

// ListUsers returns every user other than userID.
func (s *ChatService) ListUsers(ctx context.Context, userID uint) ([]models.UserSummary, error) {
	users, err := s.userRepo.ListOthers(ctx, userID)
	return users, storeErr(err)
}
