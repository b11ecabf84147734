package models

import (
	"fmt"
	"time"
)

// MediaKind classifies an uploaded attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// ReactionKind is one of the closed set of reactions a user can toggle on a message.
type ReactionKind string

const (
	ReactionLike    ReactionKind = "like"
	ReactionHeart   ReactionKind = "heart"
	ReactionDislike ReactionKind = "dislike"
	ReactionLaugh   ReactionKind = "laugh"
)

// Valid reports whether k is a known reaction kind.
func (k ReactionKind) Valid() bool {
	switch k {
	case ReactionLike, ReactionHeart, ReactionDislike, ReactionLaugh:
		return true
	}
	return false
}

// Chat is a conversation between two (private) or more (group) users.
type Chat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      *string   `json:"name"`
	IsGroup   bool      `gorm:"not null;default:false" json:"isGroup"`
	CreatedBy uint      `gorm:"not null;index" json:"createdBy"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// DisplayName is the name used in notifications. Unnamed chats get a
// generated label.
func (c *Chat) DisplayName() string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	if c.IsGroup {
		return fmt.Sprintf("Group Chat %d", c.ID)
	}
	return fmt.Sprintf("Private Chat %d", c.ID)
}

// ChatMember is the membership join table. The composite primary key keeps
// (chat, user) unique.
type ChatMember struct {
	ChatID   uint      `gorm:"primaryKey;autoIncrement:false" json:"chatId"`
	UserID   uint      `gorm:"primaryKey;autoIncrement:false;index" json:"userId"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joinedAt"`
}

// Message is an immutable chat message. Ids are assigned by the store and
// increase monotonically within a chat.
type Message struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	ChatID    uint        `gorm:"not null;index" json:"chatId"`
	UserID    uint        `gorm:"not null;index" json:"userId"`
	Content   string      `gorm:"type:text;not null;default:''" json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
	Media     []MediaFile `gorm:"foreignKey:MessageID" json:"media,omitempty"`
	Reactions []Reaction  `gorm:"foreignKey:MessageID" json:"reactions,omitempty"`
}

// MediaFile references an uploaded attachment. Exactly one per media message.
type MediaFile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"not null;uniqueIndex" json:"messageId"`
	URL       string    `gorm:"column:file_url;not null" json:"fileUrl"`
	Kind      MediaKind `gorm:"column:file_type;type:varchar(16);not null" json:"fileType"`
}

// Reaction is present iff the user currently has that reaction on the message.
type Reaction struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	MessageID uint         `gorm:"not null;uniqueIndex:idx_reactions_unique,priority:1" json:"messageId"`
	UserID    uint         `gorm:"not null;uniqueIndex:idx_reactions_unique,priority:2" json:"userId"`
	Kind      ReactionKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_reactions_unique,priority:3" json:"reaction"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ReadWatermark is the last message a user has viewed in a chat. Messages with
// a greater id count as unread.
type ReadWatermark struct {
	ChatID              uint      `gorm:"primaryKey;autoIncrement:false" json:"chatId"`
	UserID              uint      `gorm:"primaryKey;autoIncrement:false" json:"userId"`
	LastViewedMessageID uint      `gorm:"not null" json:"lastViewedMessageId"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// ChatSummary is a chat as seen by one member, with the derived unread count.
type ChatSummary struct {
	ID          uint      `json:"id"`
	Name        *string   `json:"name"`
	IsGroup     bool      `json:"isGroup"`
	CreatedBy   uint      `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UnreadCount int64     `json:"unreadCount"`
}

// MessageView is a message enriched with its author's display name.
type MessageView struct {
	Message
	Username string `json:"username"`
}
