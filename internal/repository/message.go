package repository

import (
	"context"
	"errors"
	"time"

	"messenger/internal/models"
	"messenger/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *chatRepository) InsertMessage(ctx context.Context, msg *models.Message) error {
	defer observability.TrackQuery("insert", "messages")()
	// Media rows are written explicitly by InsertMediaRef.
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(msg).Error; err != nil {
		r.log.LogError(ctx, err, "insert_message")
		return err
	}
	r.log.LogCreate(ctx, map[string]any{"chat_id": msg.ChatID, "message_id": msg.ID})
	return nil
}

func (r *chatRepository) InsertMediaRef(ctx context.Context, media *models.MediaFile) error {
	defer observability.TrackQuery("insert", "media_files")()
	if err := r.db.WithContext(ctx).Create(media).Error; err != nil {
		r.log.LogError(ctx, err, "insert_media_ref")
		return err
	}
	return nil
}

func (r *chatRepository) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	defer observability.TrackQuery("select", "messages")()
	var msg models.Message
	if err := r.db.WithContext(ctx).Preload("Media").First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns up to limit messages of chatID older than beforeID
// (or the newest when beforeID is zero), oldest first.
func (r *chatRepository) ListMessages(ctx context.Context, chatID, beforeID uint, limit int) ([]*models.Message, error) {
	defer observability.TrackQuery("select", "messages")()
	q := r.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var messages []*models.Message
	err := q.
		Preload("Media").
		Preload("Reactions", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Fetched DESC to get the latest page; callers expect ascending ids.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ToggleReaction removes the reaction if present, otherwise adds it. It
// returns the affected row and whether the reaction exists afterwards.
func (r *chatRepository) ToggleReaction(ctx context.Context, messageID, userID uint, kind models.ReactionKind) (*models.Reaction, bool, error) {
	defer observability.TrackQuery("toggle", "reactions")()
	var (
		reaction models.Reaction
		added    bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("message_id = ? AND user_id = ? AND kind = ?", messageID, userID, kind).
			First(&reaction).Error
		switch {
		case err == nil:
			added = false
			return tx.Delete(&reaction).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		reaction = models.Reaction{MessageID: messageID, UserID: userID, Kind: kind}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&reaction)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a race with an identical toggle; report the winner's row.
			if err := tx.Where("message_id = ? AND user_id = ? AND kind = ?", messageID, userID, kind).
				First(&reaction).Error; err != nil {
				return err
			}
		}
		added = true
		return nil
	})
	if err != nil {
		r.log.LogError(ctx, err, "toggle_reaction")
		return nil, false, err
	}
	r.log.LogUpdate(ctx, map[string]any{"message_id": messageID, "reaction": kind, "added": added})
	return &reaction, added, nil
}

// UpsertReadWatermark replaces the user's watermark for chatID.
func (r *chatRepository) UpsertReadWatermark(ctx context.Context, chatID, userID, messageID uint) error {
	defer observability.TrackQuery("upsert", "read_watermarks")()
	wm := models.ReadWatermark{
		ChatID:              chatID,
		UserID:              userID,
		LastViewedMessageID: messageID,
		UpdatedAt:           time.Now(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_viewed_message_id", "updated_at"}),
	}).Create(&wm).Error
	if err != nil {
		r.log.LogError(ctx, err, "upsert_read_watermark")
	}
	return err
}
