package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"messenger/internal/config"
	"messenger/internal/models"
	"messenger/internal/notifications"
	"messenger/internal/storage"
	"messenger/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	server *Server
	db     *gorm.DB
	mr     *miniredis.Miniredis
	media  *storage.LocalStore
	users  []models.User
}

func testConfig(flags string) *config.Config {
	return &config.Config{
		JWTSecret:         "test-secret-test-secret-test-secret",
		JWTIssuer:         "messenger-api",
		JWTAudience:       "messenger-client",
		Port:              "0",
		Env:               "test",
		DBDriver:          "sqlite",
		FeatureFlags:      flags,
		MediaBackend:      "local",
		MediaMaxUploadMB:  1,
		WSSendBuffer:      32,
		WSMaxConnsPerUser: 4,
		WSIntentRate:      100,
		WSIntentBurst:     100,
	}
}

func newTestEnv(t *testing.T, flags string, names ...string) *testEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	media, err := storage.NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	s, err := NewServerWithDeps(testConfig(flags), db, rdb, media)
	require.NoError(t, err)

	return &testEnv{
		server: s,
		db:     db,
		mr:     mr,
		media:  media,
		users:  testutil.CreateUsers(t, db, names...),
	}
}

func (e *testEnv) token(t *testing.T, userID uint) string {
	t.Helper()
	tok, err := e.server.auth.IssueToken(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

// connect registers a socketless client for userID.
func (e *testEnv) connect(t *testing.T, userID uint) *notifications.Client {
	t.Helper()
	c := notifications.NewClient(nil, userID, notifications.ClientOptions{SendBuffer: 64})
	require.NoError(t, e.server.registry.Register(c))
	return c
}

func (e *testEnv) do(t *testing.T, req *http.Request, userID uint) *http.Response {
	t.Helper()
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	resp, err := e.server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func jsonRequest(method, path, body string) *http.Request {
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, dest), string(data))
}

type rawEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// events drains everything queued for c.
func events(t *testing.T, c *notifications.Client) []rawEvent {
	t.Helper()
	var out []rawEvent
	for {
		select {
		case data := <-c.Send:
			var ev rawEvent
			require.NoError(t, json.Unmarshal(data, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfType(evs []rawEvent, typ string) []rawEvent {
	var out []rawEvent
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestHealthChecks(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, jsonRequest(http.MethodGet, "/health/live", ""), 0)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, jsonRequest(http.MethodGet, "/health/ready", ""), 0)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])

	env.mr.Close()
	resp = env.do(t, jsonRequest(http.MethodGet, "/health/ready", ""), 0)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &body)
	assert.Equal(t, "degraded", body["status"])
}

func TestAuthBoundary(t *testing.T) {
	env := newTestEnv(t, "", "alice")

	resp := env.do(t, jsonRequest(http.MethodGet, "/api/chats", ""), 0)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body models.ErrorResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, models.CodeUnauthenticated, body.Code)

	req := jsonRequest(http.MethodGet, "/api/chats", "")
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp = env.do(t, req, 0)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	decodeBody(t, resp, &body)
	assert.Equal(t, models.CodeInvalidCredential, body.Code)

	// a failed handshake never reaches the registry
	req = jsonRequest(http.MethodGet, "/api/ws?ticket=bogus", "")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp = env.do(t, req, 0)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, env.server.registry.Count())
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	env := newTestEnv(t, "", "alice")
	resp := env.do(t, jsonRequest(http.MethodGet, "/api/ws", ""), env.users[0].ID)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestIssueWSTicket(t *testing.T) {
	env := newTestEnv(t, "", "alice")
	alice := env.users[0].ID

	resp := env.do(t, jsonRequest(http.MethodPost, "/api/ws/ticket", ""), alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expiresIn"`
	}
	decodeBody(t, resp, &body)
	assert.NotEmpty(t, body.Ticket)
	assert.Equal(t, 30, body.ExpiresIn)
	assert.True(t, env.mr.Exists("ws_ticket:"+body.Ticket))

	// redeemable once on a regular route
	resp = env.do(t, jsonRequest(http.MethodGet, "/api/chats?ticket="+body.Ticket, ""), 0)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, jsonRequest(http.MethodGet, "/api/chats?ticket="+body.Ticket, ""), 0)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFeatureFlagsEndpoint(t *testing.T) {
	env := newTestEnv(t, "media_upload=off,beta=on", "alice")

	resp := env.do(t, jsonRequest(http.MethodGet, "/api/feature-flags", ""), env.users[0].ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Raw       map[string]string `json:"raw"`
		Evaluated map[string]bool   `json:"evaluated"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "off", body.Raw["media_upload"])
	assert.False(t, body.Evaluated["media_upload"])
	assert.True(t, body.Evaluated["beta"])
}

func TestShutdownClosesLiveConnections(t *testing.T) {
	env := newTestEnv(t, "", "alice")
	c := env.connect(t, env.users[0].ID)

	require.NoError(t, env.server.registry.Shutdown(context.Background()))
	evs := events(t, c)
	require.Len(t, evs, 1)
	assert.Equal(t, notifications.EventServerShutdown, evs[0].Type)
	<-c.Done()

	late := notifications.NewClient(nil, env.users[0].ID, notifications.ClientOptions{})
	assert.ErrorIs(t, env.server.registry.Register(late), notifications.ErrShuttingDown)
	assert.Zero(t, env.server.registry.Count())
}
