package dashboard

import (
	"errors"
	"strconv"
	"time"

	"assessapp/internal/models"
	contextutils "assessapp/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "assess-dashboard"

// Claims are carried by dashboard socket tokens
type Claims struct {
	UserID   uint        `json:"uid"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity returns who the token was issued to
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Username: c.Username, Role: c.Role}
}

// TokenIssuer signs and verifies short-lived HS256 tokens for socket upgrades
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. secret must not be empty.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput, "dashboard token secret is empty")
	}
	if ttl <= 0 {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "dashboard token ttl must be positive, got %s", ttl)
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for user, returning it with its expiry
func (t *TokenIssuer) Issue(user *models.User) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, contextutils.WrapError(err, "failed to sign dashboard token")
	}
	return signed, expires, nil
}

// Parse verifies a token and returns its claims. Expired, tampered or
// foreign tokens yield ErrUnauthorized.
func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, contextutils.WrapError(contextutils.ErrUnauthorized, "missing dashboard token")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, contextutils.WrapError(contextutils.ErrUnauthorized, "dashboard token expired")
		}
		return nil, contextutils.WrapErrorf(contextutils.ErrUnauthorized, "invalid dashboard token: %v", err)
	}
	if !parsed.Valid || claims.UserID == 0 || !claims.Role.Valid() {
		return nil, contextutils.WrapError(contextutils.ErrUnauthorized, "invalid dashboard token")
	}
	return claims, nil
}
