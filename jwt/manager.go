// Package jwt encodes and parses the short-lived access tokens issued
// alongside refresh tokens. Tokens are HMAC-SHA256 signed and deliberately
// carry no email or full-name claims: access tokens cross infrastructure
// boundaries and may be logged.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config holds signing settings for the access-token codec.
type Config struct {
	AccessTTL  time.Duration
	SigningKey []byte
	Issuer     string
	Leeway     time.Duration
}

// AccessClaims is the claim set carried by every access token. The jti claim
// is unique per token so downstream replay detection can tell two otherwise
// identical tokens apart.
type AccessClaims struct {
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and parses access tokens. Safe for concurrent use.
type Manager struct {
	config Config
	clock  func() time.Time
}

// NewManager validates cfg and returns a Manager. A missing or short signing
// key is a deployment defect and fails construction.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid access TTL configuration")
	}
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg, clock: time.Now}, nil
}

// WithClock overrides the manager's time source. Intended for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.clock = now
	return m
}

// CreateAccess mints a signed access token for the given user. Claims are
// subject (user id), display name, one roles claim, a unique jti, issued-at,
// and expiry at now + AccessTTL.
func (m *Manager) CreateAccess(userID, username string, roles []string) (string, error) {
	if userID == "" {
		return "", errors.New("user id required")
	}

	now := m.clock()
	claims := AccessClaims{
		Name:  username,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.SigningKey)
}

// ParseAccess verifies signature, algorithm, issuer, and time bounds, and
// returns the decoded claims. Any failure surfaces as an error; callers map
// it to a uniform unauthorized response.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.SigningKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
