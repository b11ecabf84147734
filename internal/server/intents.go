package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"messenger/internal/models"
)

// Intent names accepted over the live channel.
const (
	IntentJoinChat    = "joinChat"
	IntentSendMessage = "sendMessage"
	IntentReact       = "react"
	IntentMarkRead    = "markRead"
)

// Intent is a validated client command. The concrete types are
// JoinChatIntent, SendMessageIntent, ReactIntent and MarkReadIntent.
type Intent interface {
	Name() string
}

type JoinChatIntent struct {
	ChatID uint
}

type SendMessageIntent struct {
	ChatID  uint
	Content string
}

type ReactIntent struct {
	MessageID uint
	Kind      models.ReactionKind
}

type MarkReadIntent struct {
	ChatID        uint
	LastMessageID uint
}

func (JoinChatIntent) Name() string    { return IntentJoinChat }
func (SendMessageIntent) Name() string { return IntentSendMessage }
func (ReactIntent) Name() string       { return IntentReact }
func (MarkReadIntent) Name() string    { return IntentMarkRead }

type intentEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// intentFields is the union of every intent's wire fields. Pointers tell a
// missing field from a zero value.
type intentFields struct {
	ChatID        *uint   `json:"chatId"`
	Content       *string `json:"content"`
	MessageID     *uint   `json:"messageId"`
	ReactionKind  *string `json:"reactionKind"`
	LastMessageID *uint   `json:"lastMessageId"`
}

// DecodeIntent parses a client frame of the form {"type": ..., "payload": {...}}.
// Older clients send the fields next to "type"; both forms are accepted.
// Any failure is an INVALID_INTENT AppError.
func DecodeIntent(raw []byte) (Intent, error) {
	var env intentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, models.NewInvalidIntentError("malformed frame")
	}
	if env.Type == "" {
		return nil, models.NewInvalidIntentError("type is required")
	}

	body := []byte(env.Payload)
	if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		body = raw
	}
	var f intentFields
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, models.NewInvalidIntentError(fmt.Sprintf("malformed %s payload", env.Type))
	}

	switch env.Type {
	case IntentJoinChat:
		chatID, err := requireID(f.ChatID, "chatId")
		if err != nil {
			return nil, err
		}
		return JoinChatIntent{ChatID: chatID}, nil

	case IntentSendMessage:
		chatID, err := requireID(f.ChatID, "chatId")
		if err != nil {
			return nil, err
		}
		if f.Content == nil {
			return nil, models.NewInvalidIntentError("content is required")
		}
		return SendMessageIntent{ChatID: chatID, Content: *f.Content}, nil

	case IntentReact:
		messageID, err := requireID(f.MessageID, "messageId")
		if err != nil {
			return nil, err
		}
		if f.ReactionKind == nil {
			return nil, models.NewInvalidIntentError("reactionKind is required")
		}
		kind := models.ReactionKind(*f.ReactionKind)
		if !kind.Valid() {
			return nil, models.NewInvalidIntentError(fmt.Sprintf("unknown reaction kind %q", *f.ReactionKind))
		}
		return ReactIntent{MessageID: messageID, Kind: kind}, nil

	case IntentMarkRead:
		chatID, err := requireID(f.ChatID, "chatId")
		if err != nil {
			return nil, err
		}
		lastID, err := requireID(f.LastMessageID, "lastMessageId")
		if err != nil {
			return nil, err
		}
		return MarkReadIntent{ChatID: chatID, LastMessageID: lastID}, nil
	}

	return nil, models.NewInvalidIntentError(fmt.Sprintf("unknown intent %q", env.Type))
}

func requireID(v *uint, field string) (uint, error) {
	if v == nil || *v == 0 {
		return 0, models.NewInvalidIntentError(field + " is required")
	}
	return *v, nil
}

// intentType extracts the type of a frame that failed to decode, for error reports.
func intentType(raw []byte) string {
	var env struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &env)
	return env.Type
}
