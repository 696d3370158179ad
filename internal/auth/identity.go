// SPDX-License-Identifier: MIT

// Package auth resolves the two supported credential carriers into a single
// authenticated identity before the streaming state machine runs.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Carrier names how the credential reached the connection. It is recorded
// for observability only; downstream logic never branches on it.
type Carrier string

const (
	// CarrierHeader is a bearer proof in the Authorization header
	// (server-to-server clients).
	CarrierHeader Carrier = "header"
	// CarrierEmbedded is a short-lived token embedded in the connection's
	// own addressing (browser EventSource cannot set custom headers).
	CarrierEmbedded Carrier = "embedded"
)

// Identity is the authenticated principal a stream session runs as.
type Identity struct {
	// Subject is the stable, unique identifier for the caller.
	Subject string
	// Tenant is the caller's tenant, if the credential carried one.
	Tenant string
	// Carrier records which credential carrier produced this identity.
	Carrier Carrier
}

// Error reasons surfaced when a handshake is rejected. They classify the
// failure for logs and metrics; none of them leak credential material.
var (
	ErrMissingCredential = errors.New("auth: missing credential")
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrExpiredCredential = errors.New("auth: expired credential")
	ErrWrongAudience     = errors.New("auth: credential not valid for streaming")
	ErrTopicMismatch     = errors.New("auth: credential not valid for this topic")
)

// subjectFromToken derives a stable identity from an opaque bearer token.
// The "t_" prefix avoids collisions with explicit subjects.
func subjectFromToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return "t_" + hex.EncodeToString(hash[:])[:16]
}
