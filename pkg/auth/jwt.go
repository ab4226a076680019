// Package auth issues and verifies the bearer tokens that identify callers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/pkg/clock"
)

var ErrInvalidToken = errors.New("invalid token")

type JWTService interface {
	GenerateAccessToken(caller model.Caller) (string, error)
	ValidateToken(token string) (model.Caller, error)
}

// Claims carries the caller id in "sub" and its role in "role".
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

type HMACService struct {
	secret []byte
	issuer string
	expiry time.Duration
	clock  clock.Clock
}

func NewJWTService(secret, issuer string, expiry time.Duration, clk clock.Clock) *HMACService {
	return &HMACService{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
		clock:  clk,
	}
}

func (s *HMACService) GenerateAccessToken(caller model.Caller) (string, error) {
	if !caller.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", caller.Role)
	}

	now := s.clock.Now()
	claims := Claims{
		Role: caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (s *HMACService) ValidateToken(tokenStr string) (model.Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return model.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.Caller{}, fmt.Errorf("%w: subject is not a valid id", ErrInvalidToken)
	}
	if !claims.Role.Valid() {
		return model.Caller{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return model.Caller{UserID: userID, Role: claims.Role}, nil
}
