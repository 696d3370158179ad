// SPDX-License-Identifier: MIT

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerToken retrieves the bearer proof from the Authorization header.
// Returns "" if the header is absent or not a Bearer scheme.
func BearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// AuthorizeToken returns true if got matches expected using constant-time comparison.
// Empty tokens are always treated as unauthorized.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// HeaderIdentity validates the header-carried bearer proof against the
// configured API token and resolves it to an Identity.
func HeaderIdentity(r *http.Request, expectedToken string) (Identity, error) {
	token := BearerToken(r)
	if token == "" {
		return Identity{}, ErrMissingCredential
	}
	if !AuthorizeToken(token, expectedToken) {
		return Identity{}, ErrInvalidCredential
	}
	return Identity{
		Subject: subjectFromToken(token),
		Carrier: CarrierHeader,
	}, nil
}
