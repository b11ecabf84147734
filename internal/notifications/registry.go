// Package notifications tracks live websocket connections and the rooms they
// have joined, and fans events out to them.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"messenger/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	defaultMaxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	ErrUserConnLimit   = errors.New("user connection limit reached")
	ErrServerConnLimit = errors.New("server connection limit reached")
	ErrDuplicateConn   = errors.New("connection already registered")
	ErrShuttingDown    = errors.New("server is shutting down")
)

// ChatRoom names the room of a chat.
func ChatRoom(chatID uint) string { return fmt.Sprintf("chat:%d", chatID) }

// UserRoom names a user's personal room.
func UserRoom(userID uint) string { return fmt.Sprintf("user:%d", userID) }

// Registry maps connection ids to clients and rooms to their subscribers.
// It is local to one process.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Client
	rooms      map[string]map[string]*Client
	perUser    map[uint]int
	maxPerUser int
	closing    bool
	log        *observability.WSLogger
}

// NewRegistry creates an empty Registry. maxPerUser <= 0 selects the default cap.
func NewRegistry(maxPerUser int) *Registry {
	if maxPerUser <= 0 {
		maxPerUser = defaultMaxConnsPerUser
	}
	return &Registry{
		conns:      make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		perUser:    make(map[uint]int),
		maxPerUser: maxPerUser,
		log:        observability.NewWSLogger("registry"),
	}
}

// Name returns a human-readable identifier for this registry.
func (r *Registry) Name() string { return "registry" }

// Register adds client and joins it to its user's personal room.
func (r *Registry) Register(client *Client) error {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := r.conns[client.ID]; exists {
		r.mu.Unlock()
		return ErrDuplicateConn
	}
	if len(r.conns) >= maxTotalConns {
		r.mu.Unlock()
		return ErrServerConnLimit
	}
	if r.perUser[client.UserID] >= r.maxPerUser {
		r.mu.Unlock()
		return ErrUserConnLimit
	}

	client.registry = r
	if client.rooms == nil {
		client.rooms = make(map[string]struct{})
	}
	r.conns[client.ID] = client
	r.perUser[client.UserID]++
	r.joinLocked(client, UserRoom(client.UserID))
	r.mu.Unlock()

	observability.WebSocketConnectionsTotal.Inc()
	r.log.LogConnect(context.Background(), client.UserID, client.ID)
	return nil
}

// JoinRoom subscribes connID to room. Joining twice is a no-op. It returns
// false when connID is not registered.
func (r *Registry) JoinRoom(connID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.conns[connID]
	if !ok {
		return false
	}
	r.joinLocked(client, room)
	return true
}

func (r *Registry) joinLocked(client *Client, room string) {
	subs, ok := r.rooms[room]
	if !ok {
		subs = make(map[string]*Client)
		r.rooms[room] = subs
		observability.WebSocketRooms.Inc()
	}
	subs[client.ID] = client
	client.rooms[room] = struct{}{}
}

// Fanout delivers event to every connection joined to room when the call
// starts and returns how many accepted it. Slow connections are dropped
// rather than waited on.
func (r *Registry) Fanout(room string, event Event) int {
	r.mu.RLock()
	subs := make([]*Client, 0, len(r.rooms[room]))
	for _, c := range r.rooms[room] {
		subs = append(subs, c)
	}
	r.mu.RUnlock()

	if len(subs) == 0 {
		return 0
	}

	data, err := json.Marshal(event)
	if err != nil {
		r.log.LogLifecycle(context.Background(), "marshal_failed", map[string]any{"room": room, "type": event.Type, "error": err.Error()})
		return 0
	}

	delivered := 0
	for _, c := range subs {
		if c.TrySend(data) == nil {
			delivered++
		}
	}
	observability.FanoutDeliveries.WithLabelValues(event.Type).Add(float64(delivered))
	return delivered
}

// SendTo delivers event to a single connection.
func (r *Registry) SendTo(client *Client, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return client.TrySend(data)
}

// Unregister removes connID from every room it joined. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	client, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	for room := range client.rooms {
		r.leaveLocked(client, room)
	}
	if r.perUser[client.UserID] <= 1 {
		delete(r.perUser, client.UserID)
	} else {
		r.perUser[client.UserID]--
	}
	r.mu.Unlock()

	observability.WebSocketConnectionsTotal.Dec()
	r.log.LogDisconnect(context.Background(), client.UserID, client.ID, "unregistered")
}

func (r *Registry) leaveLocked(client *Client, room string) {
	delete(client.rooms, room)
	subs, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(subs, client.ID)
	if len(subs) == 0 {
		delete(r.rooms, room)
		observability.WebSocketRooms.Dec()
	}
}

// Rooms returns the rooms connID has joined.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.conns[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(client.rooms))
	for room := range client.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Subscribers returns the number of connections joined to room.
func (r *Registry) Subscribers(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown tells every client the server is going away and closes it.
// Later Register calls fail with ErrShuttingDown.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	clients := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		clients = append(clients, c)
	}
	for range r.rooms {
		observability.WebSocketRooms.Dec()
	}
	observability.WebSocketConnectionsTotal.Sub(float64(len(r.conns)))
	r.conns = make(map[string]*Client)
	r.rooms = make(map[string]map[string]*Client)
	r.perUser = make(map[uint]int)
	r.mu.Unlock()

	notice := ShutdownNotice()
	for _, c := range clients {
		_ = c.TrySend(notice)
		c.Close(websocket.CloseGoingAway, "Server shutting down")
	}

	r.log.LogLifecycle(ctx, "shutdown", map[string]any{"connections": len(clients)})
	return nil
}

// ShutdownNotice is the server_shutdown frame sent before a going-away close.
func ShutdownNotice() []byte {
	data, _ := json.Marshal(Event{
		Type:    EventServerShutdown,
		Payload: map[string]string{"message": "Server is shutting down"},
	})
	return data
}
