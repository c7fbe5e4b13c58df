// Package auth guards the bridge with short-lived HS256 bearer tokens
// signed with a secret the shell shares with its UI and CLI.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer     = "cypher"
	DefaultTTL = 12 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by a bridge token.
type Claims struct {
	Client string `json:"client,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and verifies tokens. A Service without a secret is
// disabled and accepts every request.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Service) Enabled() bool { return s != nil && len(s.secret) > 0 }

// Issue signs a token for client. It returns the token and its expiry.
func (s *Service) Issue(client string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, errors.New("auth disabled: no secret configured")
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := &Claims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   client,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates a token issued by Issue.
func (s *Service) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
