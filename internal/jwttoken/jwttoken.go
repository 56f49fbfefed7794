// Package jwttoken issues and validates the HS256 access tokens accepted by
// the API surface.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"voicegate/internal/platform/config"
)

var (
	// ErrExpired is returned for structurally valid but expired tokens.
	ErrExpired = errors.New("token has expired")
	// ErrInvalid covers every other validation failure.
	ErrInvalid = errors.New("invalid token")
)

// Claims are the JWT claims carried by service access tokens.
type Claims struct {
	ServiceID string `json:"service_id"`
	jwt.RegisteredClaims
}

// Service handles JWT creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
}

// New constructs a token service from the auth configuration.
func New(cfg config.Auth) *Service {
	return &Service{
		signingKey: []byte(cfg.JWTSigningKey),
		issuer:     cfg.JWTIssuer,
	}
}

// Generate issues a signed access token for a calling service.
func (s *Service) Generate(serviceID string, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ServiceID: serviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Validate parses and verifies a token, returning its claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if !parsed.Valid {
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalid
	}
	return claims, nil
}
