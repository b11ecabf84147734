package server

import (
	"io"

	"messenger/internal/models"
	"messenger/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateChatRequest is the body of POST /api/chats.
type CreateChatRequest struct {
	Name      *string `json:"name"`
	IsGroup   *bool   `json:"isGroup"`
	MemberIDs []uint  `json:"memberIds"`
}

// CreatePrivateChatRequest is the body of POST /api/chats/private.
type CreatePrivateChatRequest struct {
	RecipientID uint `json:"recipientId"`
}

// CreateChat creates a group chat, or a private chat when isGroup is false
// and exactly one member is given.
func (s *Server) CreateChat(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	var req CreateChatRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithAppError(c, models.NewInvalidIntentError("Invalid request body"))
	}

	if req.IsGroup != nil && !*req.IsGroup {
		if len(req.MemberIDs) != 1 {
			return models.RespondWithAppError(c, models.NewInvalidIntentError("A private chat needs exactly one other member"))
		}
		return s.createPrivateChat(c, userID, req.MemberIDs[0])
	}

	chat, members, err := s.chatService.CreateGroupChat(ctx, service.CreateGroupChatInput{
		CreatorID: userID,
		Name:      req.Name,
		MemberIDs: req.MemberIDs,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	s.router.AnnounceChat(chat, members)
	return c.Status(fiber.StatusCreated).JSON(chat)
}

// CreatePrivateChat returns the caller's private chat with recipientId,
// creating it when needed. 201 means it was created, 200 that it existed.
func (s *Server) CreatePrivateChat(c *fiber.Ctx) error {
	var req CreatePrivateChatRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithAppError(c, models.NewInvalidIntentError("Invalid request body"))
	}
	return s.createPrivateChat(c, currentUserID(c), req.RecipientID)
}

func (s *Server) createPrivateChat(c *fiber.Ctx, userID, recipientID uint) error {
	chat, members, created, err := s.chatService.CreatePrivateChat(c.UserContext(), userID, recipientID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(chat)
	}

	s.router.AnnounceChat(chat, members)
	return c.Status(fiber.StatusCreated).JSON(chat)
}

// ListMyChats returns the caller's chats with unread counts, newest first.
func (s *Server) ListMyChats(c *fiber.Ctx) error {
	chats, err := s.chatService.ListMyChats(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(chats)
}

// GetMessages returns a page of history. ?before=<id> pages backwards.
func (s *Server) GetMessages(c *fiber.Ctx) error {
	chatID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	before, err := parseUintQuery(c, "before")
	if err != nil {
		return nil
	}

	messages, names, err := s.chatService.History(c.UserContext(), currentUserID(c), chatID, before, c.QueryInt("limit", service.DefaultHistoryLimit))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	out := make([]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageView(m, names))
	}
	return c.JSON(out)
}

// UploadMedia accepts a multipart upload (file, chatId) and sends it as a
// media message.
func (s *Server) UploadMedia(c *fiber.Ctx) error {
	ctx := c.UserContext()

	chatID, err := parseFormID(c, "chatId")
	if err != nil {
		return nil
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return models.RespondWithAppError(c, models.NewInvalidIntentError("No file uploaded"))
	}
	f, err := fh.Open()
	if err != nil {
		return models.RespondWithAppError(c, models.NewInvalidIntentError("Unreadable file"))
	}
	defer f.Close()

	// Read one byte past the cap so oversized files are detected.
	content, err := io.ReadAll(io.LimitReader(f, s.config.MaxUploadBytes()+1))
	if err != nil {
		return models.RespondWithAppError(c, models.NewInvalidIntentError("Unreadable file"))
	}

	d, err := s.router.UploadMedia(ctx, service.UploadMediaInput{
		UserID:      currentUserID(c),
		ChatID:      chatID,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Content:     content,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":   "uploaded",
		"fileUrl":   d.Message.Media[0].URL,
		"fileType":  d.Message.Media[0].Kind,
		"messageId": d.Message.ID,
	})
}

// ListUsers returns every other user, for picking chat members.
func (s *Server) ListUsers(c *fiber.Ctx) error {
	users, err := s.chatService.ListUsers(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(users)
}
