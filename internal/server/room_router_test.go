package server

import (
	"context"
	"encoding/json"
	"testing"

	"messenger/internal/models"
	"messenger/internal/notifications"
	"messenger/internal/service"
	"messenger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomRouter_SendMessage(t *testing.T) {
	env := newTestEnv(t, "", "alice", "bob", "carol")
	alice, bob, carol := env.users[0].ID, env.users[1].ID, env.users[2].ID
	chat := testutil.CreateChat(t, env.db, true, strPtr("Trip"), alice, alice, bob, carol)
	router := env.server.router
	ctx := context.Background()

	aliceConn := env.connect(t, alice)
	bobJoined := env.connect(t, bob)
	bobIdle := env.connect(t, bob)
	carolConn := env.connect(t, carol)

	require.NoError(t, router.Dispatch(ctx, aliceConn, JoinChatIntent{ChatID: chat.ID}))
	require.NoError(t, router.Dispatch(ctx, bobJoined, JoinChatIntent{ChatID: chat.ID}))
	for _, c := range []*notifications.Client{aliceConn, bobJoined} {
		evs := events(t, c)
		require.Len(t, evs, 1)
		assert.Equal(t, notifications.EventJoined, evs[0].Type)
	}

	require.NoError(t, router.Dispatch(ctx, aliceConn, SendMessageIntent{ChatID: chat.ID, Content: "hello"}))

	t.Run("joined connections get the message", func(t *testing.T) {
		for _, c := range []*notifications.Client{aliceConn, bobJoined} {
			msgs := eventsOfType(events(t, c), notifications.EventMessage)
			require.Len(t, msgs, 1)
			var payload notifications.MessagePayload
			require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
			assert.Equal(t, "hello", payload.Content)
			assert.Equal(t, "alice", payload.Username)
			assert.Equal(t, chat.ID, payload.ChatID)
			assert.NotNil(t, payload.Reactions)
		}
	})

	t.Run("other members are notified in their personal room", func(t *testing.T) {
		for _, c := range []*notifications.Client{bobIdle, carolConn} {
			evs := events(t, c)
			require.Len(t, evs, 1)
			assert.Equal(t, notifications.EventNotification, evs[0].Type)
			var note notifications.NotificationPayload
			require.NoError(t, json.Unmarshal(evs[0].Payload, &note))
			assert.Equal(t, chat.ID, note.ChatID)
			assert.Equal(t, "Trip", note.ChatName)
		}
	})
}

func TestRoomRouter_RejectedIntentsDoNotFanOut(t *testing.T) {
	env := newTestEnv(t, "", "alice", "bob", "mallory")
	alice, bob, mallory := env.users[0].ID, env.users[1].ID, env.users[2].ID
	chat := testutil.CreateChat(t, env.db, false, nil, alice, alice, bob)
	router := env.server.router
	ctx := context.Background()

	aliceConn := env.connect(t, alice)
	malloryConn := env.connect(t, mallory)
	require.NoError(t, router.Dispatch(ctx, aliceConn, JoinChatIntent{ChatID: chat.ID}))
	events(t, aliceConn)

	err := router.Dispatch(ctx, malloryConn, JoinChatIntent{ChatID: chat.ID})
	assert.True(t, models.IsCode(err, models.CodeForbidden))
	assert.NotContains(t, env.server.registry.Rooms(malloryConn.ID), notifications.ChatRoom(chat.ID))

	err = router.Dispatch(ctx, malloryConn, SendMessageIntent{ChatID: chat.ID, Content: "let me in"})
	assert.True(t, models.IsCode(err, models.CodeForbidden))

	err = router.Dispatch(ctx, aliceConn, SendMessageIntent{ChatID: chat.ID, Content: "   "})
	assert.True(t, models.IsCode(err, models.CodeInvalidIntent))

	assert.Empty(t, events(t, aliceConn))
	assert.Empty(t, events(t, malloryConn))

	var count int64
	env.db.Model(&models.Message{}).Count(&count)
	assert.Zero(t, count)
}

func TestRoomRouter_StoreFailure(t *testing.T) {
	env := newTestEnv(t, "", "alice", "bob")
	alice, bob := env.users[0].ID, env.users[1].ID
	chat := testutil.CreateChat(t, env.db, false, nil, alice, alice, bob)
	router := env.server.router
	ctx := context.Background()

	aliceConn := env.connect(t, alice)
	bobConn := env.connect(t, bob)
	require.NoError(t, router.Dispatch(ctx, bobConn, JoinChatIntent{ChatID: chat.ID}))
	events(t, bobConn)

	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	err = router.Dispatch(ctx, aliceConn, SendMessageIntent{ChatID: chat.ID, Content: "lost"})
	assert.True(t, models.IsCode(err, models.CodeStoreUnavailable))
	assert.Empty(t, events(t, bobConn))
}

func TestRoomRouter_SenderDisconnectedMidSend(t *testing.T) {
	env := newTestEnv(t, "", "alice", "bob")
	alice, bob := env.users[0].ID, env.users[1].ID
	chat := testutil.CreateChat(t, env.db, false, nil, alice, alice, bob)
	router := env.server.router
	ctx := context.Background()

	aliceConn := env.connect(t, alice)
	bobConn := env.connect(t, bob)
	require.NoError(t, router.Dispatch(ctx, aliceConn, JoinChatIntent{ChatID: chat.ID}))
	require.NoError(t, router.Dispatch(ctx, bobConn, JoinChatIntent{ChatID: chat.ID}))
	events(t, aliceConn)
	events(t, bobConn)

	// the socket goes away after the frame was read but before it is handled
	env.server.registry.Unregister(aliceConn.ID)
	aliceConn.Close(1001, "")

	require.NoError(t, router.Dispatch(ctx, aliceConn, SendMessageIntent{ChatID: chat.ID, Content: "still here"}))

	var stored models.Message
	require.NoError(t, env.db.Where("chat_id = ?", chat.ID).First(&stored).Error)
	assert.Equal(t, "still here", stored.Content)

	msgs := eventsOfType(events(t, bobConn), notifications.EventMessage)
	require.Len(t, msgs, 1)
	var payload notifications.MessagePayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, stored.ID, payload.ID)

	assert.Empty(t, events(t, aliceConn))
}

func TestRoomRouter_ReactToggles(t *testing.T) {
	env := newTestEnv(t, "", "alice", "bob")
	alice, bob := env.users[0].ID, env.users[1].ID
	chat := testutil.CreateChat(t, env.db, false, nil, alice, alice, bob)
	router := env.server.router
	ctx := context.Background()

	aliceConn := env.connect(t, alice)
	bobConn := env.connect(t, bob)
	require.NoError(t, router.Dispatch(ctx, aliceConn, JoinChatIntent{ChatID: chat.ID}))
	require.NoError(t, router.Dispatch(ctx, bobConn, JoinChatIntent{ChatID: chat.ID}))

	d, err := router.SendMessage(ctx, service.SendMessageInput{UserID: alice, ChatID: chat.ID, Content: "vote"})
	require.NoError(t, err)
	events(t, aliceConn)
	events(t, bobConn)

	for _, want := range []bool{true, false} {
		require.NoError(t, router.Dispatch(ctx, bobConn, ReactIntent{MessageID: d.Message.ID, Kind: models.ReactionHeart}))

		evs := events(t, aliceConn)
		require.Len(t, evs, 1)
		assert.Equal(t, notifications.EventReaction, evs[0].Type)

		var payload notifications.ReactionPayload
		require.NoError(t, json.Unmarshal(evs[0].Payload, &payload))
		assert.Equal(t, d.Message.ID, payload.MessageID)
		assert.Equal(t, want, payload.Added)
		assert.Equal(t, "bob", payload.Reaction.Username)
		assert.Equal(t, models.ReactionHeart, payload.Reaction.Kind)
	}

	err = router.Dispatch(ctx, bobConn, ReactIntent{MessageID: 9999, Kind: models.ReactionLike})
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}

func TestRoomRouter_MarkReadIsSilent(t *testing.T) {
	env := newTestEnv(t, "", "alice", "bob")
	alice, bob := env.users[0].ID, env.users[1].ID
	chat := testutil.CreateChat(t, env.db, false, nil, alice, alice, bob)
	router := env.server.router
	ctx := context.Background()

	bobConn := env.connect(t, bob)
	d, err := router.SendMessage(ctx, service.SendMessageInput{UserID: alice, ChatID: chat.ID, Content: "ping"})
	require.NoError(t, err)
	events(t, bobConn)

	require.NoError(t, router.Dispatch(ctx, bobConn, MarkReadIntent{ChatID: chat.ID, LastMessageID: d.Message.ID}))
	assert.Empty(t, events(t, bobConn))

	chats, err := env.server.chatService.ListMyChats(ctx, bob)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Zero(t, chats[0].UnreadCount)
}

func TestRoomRouter_OrderMatchesIDs(t *testing.T) {
	env := newTestEnv(t, "", "alice", "bob")
	alice, bob := env.users[0].ID, env.users[1].ID
	chat := testutil.CreateChat(t, env.db, true, nil, alice, alice, bob)
	router := env.server.router
	ctx := context.Background()

	watcher := env.connect(t, bob)
	require.NoError(t, router.Dispatch(ctx, watcher, JoinChatIntent{ChatID: chat.ID}))
	events(t, watcher)

	const perSender = 10
	done := make(chan error, 2)
	for _, uid := range []uint{alice, bob} {
		go func(uid uint) {
			for i := 0; i < perSender; i++ {
				if _, err := router.SendMessage(ctx, service.SendMessageInput{UserID: uid, ChatID: chat.ID, Content: "x"}); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}(uid)
	}
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	msgs := eventsOfType(events(t, watcher), notifications.EventMessage)
	require.Len(t, msgs, 2*perSender)
	var last uint
	for _, ev := range msgs {
		var payload notifications.MessagePayload
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		assert.Greater(t, payload.ID, last)
		last = payload.ID
	}
}

func TestRoomRouter_AnnounceChat(t *testing.T) {
	env := newTestEnv(t, "", "alice", "bob", "carol")
	alice, bob, carol := env.users[0].ID, env.users[1].ID, env.users[2].ID
	chat := testutil.CreateChat(t, env.db, true, strPtr("Book club"), alice, alice, bob)

	aliceConn := env.connect(t, alice)
	bobConn := env.connect(t, bob)
	carolConn := env.connect(t, carol)

	env.server.router.AnnounceChat(&chat, []uint{alice, bob})

	for _, c := range []*notifications.Client{aliceConn, bobConn} {
		evs := events(t, c)
		require.Len(t, evs, 1)
		assert.Equal(t, notifications.EventNewChat, evs[0].Type)

		var payload struct {
			ID        uint   `json:"id"`
			Name      string `json:"name"`
			MemberIDs []uint `json:"memberIds"`
		}
		require.NoError(t, json.Unmarshal(evs[0].Payload, &payload))
		assert.Equal(t, chat.ID, payload.ID)
		assert.Equal(t, "Book club", payload.Name)
		assert.Equal(t, []uint{alice, bob}, payload.MemberIDs)
	}
	assert.Empty(t, events(t, carolConn))
}

func TestHandleFrame_ErrorsGoToSenderOnly(t *testing.T) {
	env := newTestEnv(t, "", "alice", "bob")
	alice, bob := env.users[0].ID, env.users[1].ID
	chat := testutil.CreateChat(t, env.db, false, nil, alice, alice, bob)
	ctx := context.Background()

	aliceConn := env.connect(t, alice)
	bobConn := env.connect(t, bob)
	require.NoError(t, env.server.router.Dispatch(ctx, bobConn, JoinChatIntent{ChatID: chat.ID}))
	events(t, bobConn)

	env.server.handleFrame(ctx, aliceConn, []byte(`{"type":"sendMessage","payload":{"content":"no chat"}}`))
	env.server.handleFrame(ctx, aliceConn, []byte(`not json`))

	evs := events(t, aliceConn)
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.Equal(t, notifications.EventError, ev.Type)
		var payload notifications.ErrorPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		assert.Equal(t, models.CodeInvalidIntent, payload.Code)
	}
	assert.Empty(t, events(t, bobConn))
}

func TestHandleFrame_RateLimited(t *testing.T) {
	env := newTestEnv(t, "", "alice")
	c := notifications.NewClient(nil, env.users[0].ID, notifications.ClientOptions{
		SendBuffer: 16, IntentRate: 0.001, IntentBurst: 1,
	})
	require.NoError(t, env.server.registry.Register(c))

	frame := []byte(`{"type":"markRead","payload":{"chatId":1,"lastMessageId":1}}`)
	env.server.handleFrame(context.Background(), c, frame)
	env.server.handleFrame(context.Background(), c, frame)

	evs := events(t, c)
	require.Len(t, evs, 2)
	var last notifications.ErrorPayload
	require.NoError(t, json.Unmarshal(evs[1].Payload, &last))
	assert.Equal(t, models.CodeRateLimited, last.Code)
	assert.Equal(t, IntentMarkRead, last.Intent)
}

func TestErrorFrameHidesInternals(t *testing.T) {
	frame := errorFrame(models.NewStoreUnavailableError(assert.AnError), IntentSendMessage)
	assert.NotContains(t, string(frame), assert.AnError.Error())

	var ev rawEvent
	require.NoError(t, json.Unmarshal(frame, &ev))
	var payload notifications.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, models.CodeStoreUnavailable, payload.Code)
	assert.Equal(t, IntentSendMessage, payload.Intent)
}

func sendInput(userID, chatID uint, content string) service.SendMessageInput {
	return service.SendMessageInput{UserID: userID, ChatID: chatID, Content: content}
}
