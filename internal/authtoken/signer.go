// Package authtoken issues and verifies the HS256 access and refresh JWTs.
package authtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Claims carries {sub, iat, exp, jti, iss} plus the token type, the role
// and the login session id.
type Claims struct {
	Type      TokenType   `json:"type"`
	Role      models.Role `json:"role"`
	SessionID string      `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

type Signer struct {
	secret []byte
	issuer string
	clock  clock.Clock
	newID  clock.IDGenerator
}

func NewSigner(secret, issuer string, clk clock.Clock, newID clock.IDGenerator) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	return &Signer{
		secret: []byte(secret),
		issuer: issuer,
		clock:  clk,
		newID:  newID,
	}, nil
}

// Issue signs a token of the given type for user, valid for ttl.
func (s *Signer) Issue(user *models.User, sessionID uuid.UUID, ttl time.Duration, typ TokenType) (string, *Claims, error) {
	now := s.clock.Now()
	claims := &Claims{
		Type:      typ,
		Role:      user.Role,
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.newID().String(),
			Subject:   user.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, claims, nil
}

// Verify checks signature, expiry and type. Failures are token errors
// coded expired, malformed, signature_invalid or wrong_type.
func (s *Signer) Verify(tokenString string, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, apperr.Token(apperr.CodeExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, apperr.Token(apperr.CodeSignatureInvalid, err)
		default:
			return nil, apperr.Token(apperr.CodeMalformed, err)
		}
	}

	if claims.Type != expected {
		return nil, apperr.Token(apperr.CodeWrongType, fmt.Errorf("expected %s token, got %q", expected, claims.Type))
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, apperr.Token(apperr.CodeMalformed, err)
	}
	return claims, nil
}
