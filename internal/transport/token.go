package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
)

// JWTSource mints HS256 tokens used as the MQTT password.
type JWTSource struct {
	secret   []byte
	issuer   string
	audience string
	subject  string
	ttl      time.Duration
	now      func() time.Time
}

// NewJWTSource returns a source signing with secret. subject is normally
// the MQTT client ID.
func NewJWTSource(secret []byte, issuer, audience, subject string, ttl time.Duration) (*JWTSource, error) {
	if len(secret) == 0 {
		return nil, apperrors.NewValidationError("jwt secret is empty").WithField("broker.jwt.secret")
	}
	if ttl <= 0 {
		return nil, apperrors.NewValidationError("jwt ttl must be positive").WithField("broker.jwt.ttl_minutes").WithValue(ttl)
	}
	return &JWTSource{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		subject:  subject,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Token implements TokenSource.
func (s *JWTSource) Token() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign broker token: %w", err)
	}
	return signed, nil
}

// Verify checks a token minted with the same secret, issuer and audience
// and returns its subject.
func (s *JWTSource) Verify(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("token cannot be empty")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}
