package notifications

import (
	"time"

	"messenger/internal/models"
)

// Live-channel event types.
const (
	EventMessage        = "message"
	EventReaction       = "reaction"
	EventNotification   = "notification"
	EventNewChat        = "newChat"
	EventJoined         = "joined"
	EventError          = "error"
	EventServerShutdown = "server_shutdown"
)

// Event is the envelope of everything written to a client.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// MessagePayload is carried by a message event.
type MessagePayload struct {
	ID        uint             `json:"id"`
	ChatID    uint             `json:"chatId"`
	UserID    uint             `json:"userId"`
	Username  string           `json:"username"`
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"createdAt"`
	MediaURL  string           `json:"mediaUrl,omitempty"`
	MediaKind models.MediaKind `json:"mediaKind,omitempty"`
	Reactions []ReactionView   `json:"reactions"`
}

// ReactionView is a reaction as clients see it.
type ReactionView struct {
	ID        uint                `json:"id"`
	UserID    uint                `json:"userId"`
	Username  string              `json:"username"`
	Kind      models.ReactionKind `json:"kind"`
	CreatedAt time.Time           `json:"createdAt"`
}

// ReactionPayload is carried by a reaction event.
type ReactionPayload struct {
	MessageID uint         `json:"messageId"`
	Reaction  ReactionView `json:"reaction"`
	Added     bool         `json:"added"`
}

// NotificationPayload tells a member that a chat they belong to has activity.
type NotificationPayload struct {
	ChatID   uint   `json:"chatId"`
	ChatName string `json:"chatName"`
}

// JoinedPayload acknowledges a joinChat intent.
type JoinedPayload struct {
	ChatID uint `json:"chatId"`
}

// ErrorPayload reports a failed intent to the connection that sent it.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Intent  string `json:"intent,omitempty"`
}

// NewMessagePayload builds the message event body for a persisted message.
func NewMessagePayload(msg *models.Message, username string) MessagePayload {
	p := MessagePayload{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		UserID:    msg.UserID,
		Username:  username,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Reactions: []ReactionView{},
	}
	if len(msg.Media) > 0 {
		p.MediaURL = msg.Media[0].URL
		p.MediaKind = msg.Media[0].Kind
	}
	return p
}

// NewChatPayload is the full record of a chat a user was just added to.
type NewChatPayload struct {
	models.Chat
	MemberIDs []uint `json:"memberIds"`
}
