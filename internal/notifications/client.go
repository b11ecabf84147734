package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"messenger/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	defaultSendBuffer = 256
)

// ClientOptions tunes a connection's outbound queue and inbound intent budget.
type ClientOptions struct {
	SendBuffer  int
	IntentRate  float64
	IntentBurst int
}

// Client is the middleman between one websocket connection and the Registry.
type Client struct {
	// ID identifies the connection in the Registry.
	ID string

	UserID uint

	// The websocket connection. Nil in tests.
	Conn *websocket.Conn

	// Buffered channel of outbound messages. Only WritePump reads it.
	Send chan []byte

	// Callback for handling incoming frames, run sequentially on the read loop.
	IncomingHandler func(*Client, []byte)

	registry *Registry
	limiter  *rate.Limiter

	// rooms is guarded by registry.mu.
	rooms map[string]struct{}

	closeOnce   sync.Once
	done        chan struct{}
	closeCode   int
	closeReason string
}

// NewClient creates a Client with a fresh connection id.
func NewClient(conn *websocket.Conn, userID uint, opts ClientOptions) *Client {
	size := opts.SendBuffer
	if size <= 0 {
		size = defaultSendBuffer
	}
	c := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, size),
		rooms:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
	if opts.IntentRate > 0 {
		burst := opts.IntentBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.IntentRate), burst)
	}
	return c
}

// Allow reports whether one more inbound intent fits in the connection's budget.
func (c *Client) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Done is closed once the client has been asked to disconnect.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close asks the write loop to send a close frame with code and reason and
// then drop the connection. Safe to call more than once.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Run pumps the connection until it closes. The write loop is always
// finished before Run returns, so the caller may release the socket.
func (c *Client) Run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.WritePump()
	}()
	c.ReadPump()
	<-writerDone
}

// ReadPump pumps frames from the websocket connection to IncomingHandler.
func (c *Client) ReadPump() {
	defer func() {
		if c.registry != nil {
			c.registry.Unregister(c.ID)
		}
		c.Close(websocket.CloseNormalClosure, "")
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger().LogError(context.Background(), c.UserID, c.ID, err, "read")
			}
			return
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps queued events to the websocket connection. It is the only
// writer on the socket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close(websocket.CloseAbnormalClosure, "write failed")
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			if c.closeCode == websocket.CloseGoingAway {
				c.flush()
			}
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason))
			return
		}
	}
}

// flush writes whatever is already queued.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.Send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

// ErrClientClosed is returned by TrySend after the client was closed.
var ErrClientClosed = errors.New("client closed")

// ErrSendBufferFull is returned by TrySend when the outbound queue is full.
var ErrSendBufferFull = errors.New("send buffer full")

// TrySend queues message without blocking. A full queue means the peer is not
// keeping up: the message is dropped and the client is disconnected so it can
// reconnect and re-fetch history.
func (c *Client) TrySend(message []byte) error {
	select {
	case <-c.done:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "closed").Inc()
		return ErrClientClosed
	default:
	}

	select {
	case c.Send <- message:
		return nil
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "full").Inc()
		c.logger().LogError(context.Background(), c.UserID, c.ID, ErrSendBufferFull, "send")
		c.Close(websocket.ClosePolicyViolation, "slow consumer")
		return ErrSendBufferFull
	}
}

func (c *Client) hubName() string {
	if c.registry != nil {
		return c.registry.Name()
	}
	return "unregistered"
}

func (c *Client) logger() *observability.WSLogger {
	if c.registry != nil {
		return c.registry.log
	}
	return observability.NewWSLogger("unregistered")
}
