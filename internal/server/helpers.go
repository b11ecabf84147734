package server

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"messenger/internal/models"
	"messenger/internal/notifications"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithAppError(c, models.NewInvalidIntentError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// parseUintQuery reads an optional non-negative integer query parameter.
func parseUintQuery(c *fiber.Ctx, key string) (uint, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		_ = models.RespondWithAppError(c, models.NewInvalidIntentError("Invalid "+humanizeParam(key)))
		return 0, errResponseWritten
	}
	return uint(v), nil
}

// humanizeParam converts a parameter name into a human-readable label.
// Examples: "id" -> "ID", "chatId" -> "chat ID", "lastMessageId" -> "last message ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	return append(words, s[start:])
}

// currentUserID returns the id AuthRequired stored on the request.
func currentUserID(c *fiber.Ctx) uint {
	id, _ := c.Locals("userID").(uint)
	return id
}

// messageView renders a stored message the way the live channel does, with
// its reactions.
func messageView(msg *models.Message, names map[uint]string) notifications.MessagePayload {
	view := notifications.NewMessagePayload(msg, names[msg.UserID])
	for _, r := range msg.Reactions {
		view.Reactions = append(view.Reactions, notifications.ReactionView{
			ID:        r.ID,
			UserID:    r.UserID,
			Username:  names[r.UserID],
			Kind:      r.Kind,
			CreatedAt: r.CreatedAt,
		})
	}
	return view
}

// parseFormID reads a required positive id from a form field.
func parseFormID(c *fiber.Ctx, field string) (uint, error) {
	v, err := strconv.ParseUint(c.FormValue(field), 10, 32)
	if err != nil || v == 0 {
		_ = models.RespondWithAppError(c, models.NewInvalidIntentError(humanizeParam(field)+" is required"))
		return 0, errResponseWritten
	}
	return uint(v), nil
}
