// Package middleware provides authentication, logging, tracing and rate limiting middleware.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"messenger/internal/config"
	"messenger/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// WSTicketTTL bounds how long a WebSocket ticket can be redeemed.
const WSTicketTTL = 30 * time.Second

// Authenticator turns a bearer credential into a user id. It is consulted once
// per WebSocket handshake and once per HTTP request.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	redis    *redis.Client
}

// NewAuthenticator builds an Authenticator from config. rdb may be nil, in
// which case WebSocket tickets are unavailable.
func NewAuthenticator(cfg *config.Config, rdb *redis.Client) *Authenticator {
	return &Authenticator{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		redis:    rdb,
	}
}

// Authenticate validates credential and returns the user id it names.
func (a *Authenticator) Authenticate(_ context.Context, credential string) (uint, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return 0, models.NewUnauthenticatedError("Authorization required")
	}

	token, err := jwt.Parse(credential, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, models.NewInvalidCredentialError("Invalid or expired token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, models.NewInvalidCredentialError("Invalid token claims", nil)
	}

	if iss, present := claims["iss"]; present && a.issuer != "" {
		if s, _ := iss.(string); s != a.issuer {
			return 0, models.NewInvalidCredentialError("Invalid token issuer", nil)
		}
	}
	if _, present := claims["aud"]; present && a.audience != "" {
		aud, err := claims.GetAudience()
		if err != nil || !slices.Contains(aud, a.audience) {
			return 0, models.NewInvalidCredentialError("Invalid token audience", err)
		}
	}

	userID, err := subjectFromClaims(claims)
	if err != nil {
		return 0, models.NewInvalidCredentialError("Invalid subject claim", err)
	}
	return userID, nil
}

// subjectFromClaims reads the user id from "sub", falling back to the older
// numeric "userId" claim.
func subjectFromClaims(claims jwt.MapClaims) (uint, error) {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return parseUserID(sub)
	}

	switch v := claims["userId"].(type) {
	case float64:
		if v <= 0 || v != float64(uint32(v)) {
			return 0, fmt.Errorf("userId claim out of range: %v", v)
		}
		return uint(v), nil
	case string:
		return parseUserID(v)
	}
	return 0, errors.New("missing subject")
}

func parseUserID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errors.New("user id must be positive")
	}
	return uint(id), nil
}

// IssueToken signs a credential for userID valid for ttl.
func (a *Authenticator) IssueToken(userID uint, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	if a.audience != "" {
		claims["aud"] = a.audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// IssueTicket stores a short-lived single-use WebSocket ticket for userID.
func (a *Authenticator) IssueTicket(ctx context.Context, userID uint) (string, error) {
	if a.redis == nil {
		return "", models.NewStoreUnavailableError(errors.New("redis unavailable"))
	}
	ticket := uuid.NewString()
	if err := a.redis.Set(ctx, ticketKey(ticket), userID, WSTicketTTL).Err(); err != nil {
		return "", models.NewStoreUnavailableError(err)
	}
	return ticket, nil
}

func (a *Authenticator) consumeTicket(ctx context.Context, ticket string) (uint, error) {
	if a.redis == nil {
		return 0, models.NewInvalidCredentialError("WebSocket tickets are unavailable", nil)
	}
	val, err := a.redis.GetDel(ctx, ticketKey(ticket)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, models.NewInvalidCredentialError("Invalid or expired WebSocket ticket", err)
	}
	if err != nil {
		return 0, models.NewStoreUnavailableError(err)
	}
	userID, err := parseUserID(val)
	if err != nil {
		return 0, models.NewInvalidCredentialError("Invalid or expired WebSocket ticket", err)
	}
	return userID, nil
}

func ticketKey(ticket string) string {
	return "ws_ticket:" + ticket
}

// AuthRequired resolves the caller from the Authorization header, a
// WebSocket ticket, or a token query parameter, in that order.
func (a *Authenticator) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		var (
			userID uint
			err    error
		)
		switch {
		case bearerToken(c) != "":
			userID, err = a.Authenticate(ctx, bearerToken(c))
		case c.Query("ticket") != "":
			userID, err = a.consumeTicket(ctx, c.Query("ticket"))
		default:
			userID, err = a.Authenticate(ctx, c.Query("token"))
		}
		if err != nil {
			return models.RespondWithAppError(c, err)
		}

		c.Locals("userID", userID)
		c.SetUserContext(WithUserID(ctx, userID))
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
