package server

import (
	"messenger/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetFeatureFlags returns configured feature flags and evaluated state for current user.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	userID := currentUserID(c)

	if s.featureFlags == nil {
		return c.JSON(fiber.Map{
			"raw":       map[string]string{},
			"evaluated": map[string]bool{},
		})
	}

	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(userID),
	})
}

// RequireFeature rejects the request with 403 unless flag is enabled for the caller.
func (s *Server) RequireFeature(flag string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !s.featureFlags.Enabled(flag, currentUserID(c)) {
			return models.RespondWithAppError(c, models.NewForbiddenError(flag+" is disabled"))
		}
		return c.Next()
	}
}
