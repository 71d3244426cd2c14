package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken covers bad signatures, malformed tokens and missing claims
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for tokens past their exp claim
	ErrTokenExpired = errors.New("token has expired")
)

// Claims are the access token claims. Only sub and exp are required.
type Claims struct {
	jwt.RegisteredClaims
}

// Service issues and validates HS256 access tokens
type Service struct {
	signingKey []byte
	issuer     string
	leeway     time.Duration
	now        func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithIssuer sets iss on issued tokens and requires it on validated ones
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		s.issuer = issuer
	}
}

// WithLeeway tolerates clock skew when checking exp
func WithLeeway(leeway time.Duration) ServiceOption {
	return func(s *Service) {
		s.leeway = leeway
	}
}

// NewService creates a Service. The key must not be empty.
func NewService(signingKey string, options ...ServiceOption) (*Service, error) {
	if signingKey == "" {
		return nil, errors.New("signing key is required")
	}
	s := &Service{signingKey: []byte(signingKey), now: time.Now}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// Issue signs a token for subject that expires after ttl
func (s *Service) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, algorithm, exp and sub.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub claim is missing", ErrInvalidToken)
	}
	return claims, nil
}
