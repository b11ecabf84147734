package validation

import (
	"strings"
	"unicode/utf8"

	"messenger/internal/models"
)

const (
	MaxChatNameLength = 100
	MaxMessageLength  = 4000
)

// NormalizeChatName trims name and rejects empty or oversized group names.
func NormalizeChatName(name *string) (string, error) {
	if name == nil {
		return "", models.NewInvalidIntentError("group chat name is required")
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return "", models.NewInvalidIntentError("group chat name is required")
	}
	if utf8.RuneCountInString(trimmed) > MaxChatNameLength {
		return "", models.NewInvalidIntentError("group chat name is too long")
	}
	return trimmed, nil
}

// ValidateMessageContent enforces that a text message carries content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return models.NewInvalidIntentError("message content is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return models.NewInvalidIntentError("message content is too long")
	}
	return nil
}
