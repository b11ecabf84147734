package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"messenger/internal/config"
	"messenger/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func newTestAuthenticator(rdb *redis.Client) *Authenticator {
	return NewAuthenticator(&config.Config{
		JWTSecret:   testSecret,
		JWTIssuer:   "messenger-api",
		JWTAudience: "messenger-client",
	}, rdb)
}

func signClaims(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthenticate(t *testing.T) {
	auth := newTestAuthenticator(nil)
	ctx := context.Background()
	future := time.Now().Add(time.Hour).Unix()

	issued, err := auth.IssueToken(42, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		credential string
		wantUserID uint
		wantCode   string
	}{
		{"issued token", issued, 42, ""},
		{"legacy userId claim", signClaims(t, jwt.MapClaims{"userId": 7, "exp": future}, testSecret), 7, ""},
		{"empty credential", "", 0, models.CodeUnauthenticated},
		{"whitespace credential", "   ", 0, models.CodeUnauthenticated},
		{"garbage", "not-a-jwt", 0, models.CodeInvalidCredential},
		{"wrong secret", signClaims(t, jwt.MapClaims{"sub": "1", "exp": future}, "other-secret"), 0, models.CodeInvalidCredential},
		{"expired", signClaims(t, jwt.MapClaims{"sub": "1", "exp": time.Now().Add(-time.Minute).Unix()}, testSecret), 0, models.CodeInvalidCredential},
		{"missing subject", signClaims(t, jwt.MapClaims{"exp": future}, testSecret), 0, models.CodeInvalidCredential},
		{"non numeric subject", signClaims(t, jwt.MapClaims{"sub": "abc", "exp": future}, testSecret), 0, models.CodeInvalidCredential},
		{"zero subject", signClaims(t, jwt.MapClaims{"sub": "0", "exp": future}, testSecret), 0, models.CodeInvalidCredential},
		{"foreign issuer", signClaims(t, jwt.MapClaims{"sub": "1", "iss": "elsewhere", "exp": future}, testSecret), 0, models.CodeInvalidCredential},
		{"foreign audience", signClaims(t, jwt.MapClaims{"sub": "1", "aud": "elsewhere", "exp": future}, testSecret), 0, models.CodeInvalidCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := auth.Authenticate(ctx, tt.credential)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, models.ErrorCode(err))
				assert.Zero(t, userID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUserID, userID)
		})
	}
}

func TestAuthenticate_RejectsNoneAlgorithm(t *testing.T) {
	auth := newTestAuthenticator(nil)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "1"})
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = auth.Authenticate(context.Background(), s)
	assert.True(t, models.IsCode(err, models.CodeInvalidCredential))
}

func TestAuthRequired(t *testing.T) {
	_, rdb := newTestRedis(t)
	auth := newTestAuthenticator(rdb)

	app := fiber.New()
	app.Get("/test", auth.AuthRequired(), func(c *fiber.Ctx) error {
		uid, ok := UserIDFromContext(c.UserContext())
		if !ok || uid != c.Locals("userID").(uint) {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(fiber.Map{"userID": uid})
	})

	token, err := auth.IssueToken(123, time.Hour)
	require.NoError(t, err)
	ticket, err := auth.IssueTicket(context.Background(), 55)
	require.NoError(t, err)

	tests := []struct {
		name           string
		target         string
		authHeader     string
		expectedStatus int
		expectedUserID uint
		expectedCode   string
	}{
		{"bearer header", "/test", "Bearer " + token, http.StatusOK, 123, ""},
		{"query token", "/test?token=" + token, "", http.StatusOK, 123, ""},
		{"ticket", "/test?ticket=" + ticket, "", http.StatusOK, 55, ""},
		{"ticket is single use", "/test?ticket=" + ticket, "", http.StatusUnauthorized, 0, models.CodeInvalidCredential},
		{"missing credential", "/test", "", http.StatusUnauthorized, 0, models.CodeUnauthenticated},
		{"basic auth", "/test", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, 0, models.CodeUnauthenticated},
		{"invalid token", "/test", "Bearer invalid", http.StatusUnauthorized, 0, models.CodeInvalidCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var body map[string]uint
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.expectedUserID, body["userID"])
			} else {
				var body models.ErrorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.expectedCode, body.Code)
			}
		})
	}
}

func TestIssueTicket_RequiresRedis(t *testing.T) {
	auth := newTestAuthenticator(nil)
	_, err := auth.IssueTicket(context.Background(), 1)
	assert.True(t, models.IsCode(err, models.CodeStoreUnavailable))
}

func TestAuthRequired_TicketStoreDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	auth := newTestAuthenticator(rdb)
	ticket, err := auth.IssueTicket(context.Background(), 7)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/test", auth.AuthRequired(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	mr.Close()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test?ticket="+ticket, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, models.CodeStoreUnavailable, body.Code)
}
