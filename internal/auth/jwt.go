// Package auth - jwt.go signs and verifies the bearer tokens admin API callers
// present. The claims carry the caller's host-application user id and username,
// which become the actor on audit entries caused through the API.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// Issuer is set on every token this service signs.
const Issuer = "user-audit-scheduler"

// ErrMissingSecret is returned when no signing secret is configured outside
// development mode.
var ErrMissingSecret = errors.New("auth.jwt_secret is required in production; generate one with: openssl rand -hex 32")

// Claims represents the JWT claims structure
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Actor returns the audit actor the token identifies.
func (c *Claims) Actor() models.Actor {
	return models.Actor{ID: c.UserID, Username: c.Username}
}

// TokenManager signs and validates HS256 tokens with one shared secret.
type TokenManager struct {
	secret []byte
}

// isDevMode checks if we're in development mode
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// NewTokenManager validates secret and returns a TokenManager. An empty
// secret is an error unless DEV_MODE or GIN_MODE=debug is set, in which case
// a random secret is generated and tokens do not survive a restart.
func NewTokenManager(secret string) (*TokenManager, error) {
	if secret == "" {
		if !isDevMode() {
			return nil, ErrMissingSecret
		}
		slog.Warn("auth.jwt_secret not set, using an auto-generated secret for development; tokens will not survive a restart")
		secret = generateRandomSecret()
	}
	if len(secret) < 32 {
		slog.Warn("auth.jwt_secret is shorter than the recommended 32 characters")
	}
	return &TokenManager{secret: []byte(secret)}, nil
}

// Generate creates a token for userID. A zero expiresIn means one hour.
func (m *TokenManager) Generate(userID int64, username string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   strconv.FormatInt(userID, 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses and validates a token.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}
