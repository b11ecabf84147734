package server

import (
	"context"
	"fmt"

	"messenger/internal/models"
	"messenger/internal/notifications"
	"messenger/internal/observability"
	"messenger/internal/service"

	"go.opentelemetry.io/otel/attribute"
)

// RoomRouter validates and persists client intents and fans the results out
// through the Registry.
type RoomRouter struct {
	chats     *service.ChatService
	registry  *notifications.Registry
	chatLocks service.StripedMutex
	log       *observability.WSLogger
}

// NewRoomRouter creates a RoomRouter.
func NewRoomRouter(chats *service.ChatService, registry *notifications.Registry) *RoomRouter {
	return &RoomRouter{
		chats:    chats,
		registry: registry,
		log:      observability.NewWSLogger("router"),
	}
}

// Dispatch runs intent on behalf of client. Returned errors are scoped to the
// request; nothing has been fanned out when an error is returned.
func (r *RoomRouter) Dispatch(ctx context.Context, client *notifications.Client, intent Intent) (err error) {
	span, ctx := observability.NewSpan(ctx, "intent."+intent.Name())
	span.AddAttributes(
		attribute.Int64("user.id", int64(client.UserID)),
		attribute.String("connection.id", client.ID),
	)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = models.ErrorCode(err)
			span.SetError(err)
		}
		observability.RecordIntent(intent.Name(), outcome)
		span.End()
	}()

	switch in := intent.(type) {
	case JoinChatIntent:
		r.log.LogMessage(ctx, client.UserID, notifications.ChatRoom(in.ChatID), in.Name())
		return r.joinChat(ctx, client, in.ChatID)
	case SendMessageIntent:
		r.log.LogMessage(ctx, client.UserID, notifications.ChatRoom(in.ChatID), in.Name())
		_, err := r.SendMessage(ctx, service.SendMessageInput{UserID: client.UserID, ChatID: in.ChatID, Content: in.Content})
		return err
	case ReactIntent:
		return r.React(ctx, client.UserID, in.MessageID, in.Kind)
	case MarkReadIntent:
		return r.chats.MarkRead(ctx, client.UserID, in.ChatID, in.LastMessageID)
	default:
		return models.NewInvalidIntentError(fmt.Sprintf("unsupported intent %q", intent.Name()))
	}
}

// joinChat subscribes the connection to the chat room after a membership check.
func (r *RoomRouter) joinChat(ctx context.Context, client *notifications.Client, chatID uint) error {
	if err := r.chats.EnsureMember(ctx, chatID, client.UserID); err != nil {
		return err
	}
	r.registry.JoinRoom(client.ID, notifications.ChatRoom(chatID))
	r.registry.JoinRoom(client.ID, notifications.UserRoom(client.UserID))
	return r.registry.SendTo(client, notifications.Event{
		Type:    notifications.EventJoined,
		Payload: notifications.JoinedPayload{ChatID: chatID},
	})
}

// SendMessage persists a text message and fans it out. Persistence and
// fanout for one chat never interleave, so live order matches id order.
func (r *RoomRouter) SendMessage(ctx context.Context, in service.SendMessageInput) (*service.MessageDelivery, error) {
	unlock := r.chatLocks.Lock(uint64(in.ChatID))
	defer unlock()

	d, err := r.chats.SendMessage(ctx, in)
	if err != nil {
		return nil, err
	}
	r.publishMessage(d)
	return d, nil
}

// UploadMedia stores the attachment outside the chat lock, then records and
// fans it out like SendMessage.
func (r *RoomRouter) UploadMedia(ctx context.Context, in service.UploadMediaInput) (*service.MessageDelivery, error) {
	pending, err := r.chats.StageMedia(ctx, in)
	if err != nil {
		return nil, err
	}

	unlock := r.chatLocks.Lock(uint64(in.ChatID))
	defer unlock()

	d, err := r.chats.CommitMedia(ctx, pending)
	if err != nil {
		return nil, err
	}
	r.publishMessage(d)
	return d, nil
}

// publishMessage broadcasts the message to the chat room and notifies every
// other member's personal room.
func (r *RoomRouter) publishMessage(d *service.MessageDelivery) {
	chatID := d.Message.ChatID
	r.registry.Fanout(notifications.ChatRoom(chatID), notifications.Event{
		Type:    notifications.EventMessage,
		Payload: notifications.NewMessagePayload(d.Message, d.Username),
	})

	note := notifications.Event{
		Type:    notifications.EventNotification,
		Payload: notifications.NotificationPayload{ChatID: chatID, ChatName: d.ChatName},
	}
	for _, memberID := range d.Recipients {
		r.registry.Fanout(notifications.UserRoom(memberID), note)
	}
}

// React toggles a reaction and broadcasts the outcome to the message's chat.
func (r *RoomRouter) React(ctx context.Context, userID, messageID uint, kind models.ReactionKind) error {
	res, err := r.chats.React(ctx, userID, messageID, kind)
	if err != nil {
		return err
	}
	r.registry.Fanout(notifications.ChatRoom(res.ChatID), notifications.Event{
		Type: notifications.EventReaction,
		Payload: notifications.ReactionPayload{
			MessageID: messageID,
			Reaction: notifications.ReactionView{
				ID:        res.Reaction.ID,
				UserID:    res.Reaction.UserID,
				Username:  res.Username,
				Kind:      res.Reaction.Kind,
				CreatedAt: res.Reaction.CreatedAt,
			},
			Added: res.Added,
		},
	})
	return nil
}

// AnnounceChat tells every member about a newly created chat.
func (r *RoomRouter) AnnounceChat(chat *models.Chat, memberIDs []uint) {
	event := notifications.Event{
		Type:    notifications.EventNewChat,
		Payload: notifications.NewChatPayload{Chat: *chat, MemberIDs: memberIDs},
	}
	for _, id := range memberIDs {
		r.registry.Fanout(notifications.UserRoom(id), event)
	}
}
