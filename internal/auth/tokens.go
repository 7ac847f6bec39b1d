package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"jammy/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

type Claims struct {
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 identity tokens.
type TokenManager struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

func NewTokenManager(secret []byte, issuer string, expiry time.Duration) *TokenManager {
	return &TokenManager{
		secret: secret,
		issuer: issuer,
		expiry: expiry,
		now:    time.Now,
	}
}

// Issue returns a signed token for identity and its expiry time.
func (m *TokenManager) Issue(identity models.UserIdentity) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.expiry)
	role := identity.Role
	if role == "" {
		role = models.RoleMember
	}

	claims := Claims{
		Username: identity.Username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Parse validates the signature and time claims of token.
func (m *TokenManager) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts a token from the Authorization header, falling back to
// the token query parameter used by browser websocket clients.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
