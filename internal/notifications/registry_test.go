package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(userID uint, buffer int) *Client {
	return NewClient(nil, userID, ClientOptions{SendBuffer: buffer})
}

func drain(c *Client) []Event {
	var events []Event
	for {
		select {
		case raw := <-c.Send:
			var ev Event
			if err := json.Unmarshal(raw, &ev); err == nil {
				events = append(events, ev)
			}
		default:
			return events
		}
	}
}

func TestRegistry_RegisterJoinsPersonalRoom(t *testing.T) {
	r := NewRegistry(0)
	c := newTestClient(7, 4)

	require.NoError(t, r.Register(c))
	assert.Equal(t, []string{"user:7"}, r.Rooms(c.ID))
	assert.Equal(t, 1, r.Subscribers(UserRoom(7)))
	assert.ErrorIs(t, r.Register(c), ErrDuplicateConn)
}

func TestRegistry_PerUserLimit(t *testing.T) {
	r := NewRegistry(2)
	require.NoError(t, r.Register(newTestClient(1, 1)))
	require.NoError(t, r.Register(newTestClient(1, 1)))
	assert.ErrorIs(t, r.Register(newTestClient(1, 1)), ErrUserConnLimit)

	// other users are unaffected
	assert.NoError(t, r.Register(newTestClient(2, 1)))
}

func TestRegistry_JoinRoomIsIdempotent(t *testing.T) {
	r := NewRegistry(0)
	c := newTestClient(1, 4)
	require.NoError(t, r.Register(c))

	assert.True(t, r.JoinRoom(c.ID, ChatRoom(5)))
	assert.True(t, r.JoinRoom(c.ID, ChatRoom(5)))
	assert.Equal(t, 1, r.Subscribers(ChatRoom(5)))
	assert.ElementsMatch(t, []string{"user:1", "chat:5"}, r.Rooms(c.ID))

	assert.False(t, r.JoinRoom("missing", ChatRoom(5)))
}

func TestRegistry_FanoutOnlyReachesJoinedConnections(t *testing.T) {
	r := NewRegistry(0)
	inRoom := newTestClient(1, 4)
	otherDevice := newTestClient(1, 4)
	outside := newTestClient(2, 4)
	for _, c := range []*Client{inRoom, otherDevice, outside} {
		require.NoError(t, r.Register(c))
	}
	r.JoinRoom(inRoom.ID, ChatRoom(9))

	n := r.Fanout(ChatRoom(9), Event{Type: EventMessage, Payload: MessagePayload{ID: 1, ChatID: 9}})
	assert.Equal(t, 1, n)

	got := drain(inRoom)
	require.Len(t, got, 1)
	assert.Equal(t, EventMessage, got[0].Type)
	assert.Empty(t, drain(otherDevice))
	assert.Empty(t, drain(outside))

	// personal room reaches every device of the user
	assert.Equal(t, 2, r.Fanout(UserRoom(1), Event{Type: EventNotification}))
	assert.Len(t, drain(inRoom), 1)
	assert.Len(t, drain(otherDevice), 1)
}

func TestRegistry_NoReplayForLateJoiners(t *testing.T) {
	r := NewRegistry(0)
	early := newTestClient(1, 4)
	late := newTestClient(2, 4)
	require.NoError(t, r.Register(early))
	require.NoError(t, r.Register(late))

	r.JoinRoom(early.ID, ChatRoom(3))
	r.Fanout(ChatRoom(3), Event{Type: EventMessage})
	r.JoinRoom(late.ID, ChatRoom(3))

	assert.Len(t, drain(early), 1)
	assert.Empty(t, drain(late))
}

func TestRegistry_UnregisterRemovesEveryRoom(t *testing.T) {
	r := NewRegistry(0)
	c := newTestClient(1, 4)
	require.NoError(t, r.Register(c))
	r.JoinRoom(c.ID, ChatRoom(1))
	r.JoinRoom(c.ID, ChatRoom(2))

	r.Unregister(c.ID)
	r.Unregister(c.ID)
	r.Unregister("never-registered")

	assert.Zero(t, r.Count())
	r.mu.RLock()
	assert.Empty(t, r.rooms)
	assert.Empty(t, r.perUser)
	r.mu.RUnlock()

	assert.Zero(t, r.Fanout(ChatRoom(1), Event{Type: EventMessage}))
}

func TestRegistry_SlowConsumerIsDropped(t *testing.T) {
	r := NewRegistry(0)
	slow := newTestClient(1, 1)
	fast := newTestClient(2, 8)
	require.NoError(t, r.Register(slow))
	require.NoError(t, r.Register(fast))
	r.JoinRoom(slow.ID, ChatRoom(1))
	r.JoinRoom(fast.ID, ChatRoom(1))

	assert.Equal(t, 2, r.Fanout(ChatRoom(1), Event{Type: EventMessage}))
	assert.Equal(t, 1, r.Fanout(ChatRoom(1), Event{Type: EventMessage}))

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow client was not closed")
	}
	assert.ErrorIs(t, slow.TrySend([]byte(`{}`)), ErrClientClosed)
	assert.Len(t, drain(fast), 2)
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := NewRegistry(1000)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newTestClient(uint(i%5+1), 64)
			if err := r.Register(c); err != nil {
				return
			}
			for j := 0; j < 10; j++ {
				r.JoinRoom(c.ID, ChatRoom(uint(j%3)))
				r.Fanout(ChatRoom(uint(j%3)), Event{Type: EventMessage, Payload: fmt.Sprint(j)})
			}
			r.Unregister(c.ID)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, r.Count())
	r.mu.RLock()
	assert.Empty(t, r.rooms)
	r.mu.RUnlock()
}

func TestRegistry_Shutdown(t *testing.T) {
	r := NewRegistry(0)
	c := newTestClient(1, 4)
	require.NoError(t, r.Register(c))

	require.NoError(t, r.Shutdown(context.Background()))
	assert.Zero(t, r.Count())

	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, EventServerShutdown, got[0].Type)

	<-c.Done()
	assert.Equal(t, websocket.CloseGoingAway, c.closeCode)

	// late unregister from the read loop is harmless
	r.Unregister(c.ID)

	late := newTestClient(2, 4)
	assert.ErrorIs(t, r.Register(late), ErrShuttingDown)
	assert.Zero(t, r.Count())
}
