package server

import (
	"context"
	"encoding/json"
	"errors"

	"messenger/internal/middleware"
	"messenger/internal/models"
	"messenger/internal/notifications"
	"messenger/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// WebSocketUpgradeRequired rejects plain HTTP requests on the WebSocket route.
func WebSocketUpgradeRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// WebSocketHandler serves the live channel. AuthRequired runs before the
// upgrade, so only authenticated connections reach registration.
func (s *Server) WebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals("userID").(uint)
		if !ok || userID == 0 {
			_ = conn.WriteMessage(websocket.TextMessage, errorFrame(models.NewUnauthenticatedError("Authorization required"), ""))
			_ = conn.Close()
			return
		}

		client := notifications.NewClient(conn, userID, notifications.ClientOptions{
			SendBuffer:  s.config.WSSendBuffer,
			IntentRate:  s.config.WSIntentRate,
			IntentBurst: s.config.WSIntentBurst,
		})
		if err := s.registry.Register(client); err != nil {
			s.wsLog.LogError(context.Background(), userID, client.ID, err, "register")
			if errors.Is(err, notifications.ErrShuttingDown) {
				_ = conn.WriteMessage(websocket.TextMessage, notifications.ShutdownNotice())
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
			} else {
				_ = conn.WriteMessage(websocket.TextMessage, errorFrame(models.NewRateLimitedError(err.Error()), ""))
			}
			_ = conn.Close()
			return
		}

		// Intents outlive the socket: a disconnect must not abort a write in flight.
		ctx := middleware.WithUserID(context.Background(), userID)
		client.IncomingHandler = func(c *notifications.Client, raw []byte) {
			s.handleFrame(ctx, c, raw)
		}
		client.Run()
		s.wsLog.LogDisconnect(ctx, userID, client.ID, "closed")
	})
}

// handleFrame decodes and dispatches one inbound frame. Failures are reported
// to this connection only.
func (s *Server) handleFrame(ctx context.Context, client *notifications.Client, raw []byte) {
	if !client.Allow() {
		observability.RecordIntent(intentType(raw), models.CodeRateLimited)
		s.reportError(ctx, client, models.NewRateLimitedError("Too many messages, slow down"), intentType(raw))
		return
	}

	intent, err := DecodeIntent(raw)
	if err != nil {
		observability.RecordIntent(intentType(raw), models.CodeInvalidIntent)
		s.reportError(ctx, client, err, intentType(raw))
		return
	}

	if err := s.router.Dispatch(ctx, client, intent); err != nil {
		s.reportError(ctx, client, err, intent.Name())
	}
}

func (s *Server) reportError(ctx context.Context, client *notifications.Client, err error, intent string) {
	code := models.ErrorCode(err)
	if code == models.CodeStoreUnavailable || code == models.CodeInternal {
		s.wsLog.LogError(ctx, client.UserID, client.ID, err, intent)
	}
	_ = client.TrySend(errorFrame(err, intent))
}

// errorFrame encodes err as an error event. Store internals are not exposed.
func errorFrame(err error, intent string) []byte {
	payload := notifications.ErrorPayload{Code: models.ErrorCode(err), Intent: intent}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		payload.Message = appErr.Message
	} else {
		payload.Message = "Internal server error"
	}
	data, _ := json.Marshal(notifications.Event{Type: notifications.EventError, Payload: payload})
	return data
}

// IssueWSTicket returns a short-lived single-use ticket for the WebSocket handshake.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	ticket, err := s.auth.IssueTicket(c.UserContext(), userID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"ticket": ticket, "expiresIn": int(middleware.WSTicketTTL.Seconds())})
}
