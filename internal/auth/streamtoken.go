// SPDX-License-Identifier: MIT

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const streamAudience = "stream"

// StreamClaims is the claim set of an embedded stream token. The token is
// narrowly scoped: streaming audience only, bound to a single topic, short
// expiry.
type StreamClaims struct {
	Tenant string `json:"tid,omitempty"`
	Topic  string `json:"topic"`
	jwt.RegisteredClaims
}

// StreamTokenService issues and validates the short-lived tokens browser
// clients embed in the stream URL.
type StreamTokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewStreamTokenService creates a stream token service. The secret must be
// non-empty for both issuance and validation to succeed.
func NewStreamTokenService(secret string, ttl time.Duration) *StreamTokenService {
	return &StreamTokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "seqstream",
	}
}

// Issue mints a stream token for one subject and topic.
func (s *StreamTokenService) Issue(subject, tenant, topic string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("auth: stream token secret not configured")
	}
	now := time.Now()
	claims := StreamClaims{
		Tenant: tenant,
		Topic:  topic,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{streamAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// TTL returns the configured token lifetime.
func (s *StreamTokenService) TTL() time.Duration {
	return s.ttl
}

// EmbeddedIdentity validates an embedded stream token against the expected
// topic and resolves it to an Identity.
func (s *StreamTokenService) EmbeddedIdentity(tokenString, topic string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingCredential
	}
	if len(s.secret) == 0 {
		return Identity{}, ErrInvalidCredential
	}

	token, err := jwt.ParseWithClaims(tokenString, &StreamClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredCredential
		}
		return Identity{}, ErrInvalidCredential
	}

	claims, ok := token.Claims.(*StreamClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidCredential
	}

	audOK := false
	for _, aud := range claims.Audience {
		if aud == streamAudience {
			audOK = true
			break
		}
	}
	if !audOK {
		return Identity{}, ErrWrongAudience
	}
	if claims.Topic != topic {
		return Identity{}, ErrTopicMismatch
	}

	return Identity{
		Subject: claims.Subject,
		Tenant:  claims.Tenant,
		Carrier: CarrierEmbedded,
	}, nil
}
