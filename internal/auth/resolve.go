// SPDX-License-Identifier: MIT

package auth

import "net/http"

// Authenticator resolves incoming stream requests to an Identity. Both
// carriers produce the same Identity type, so the engine never branches on
// how the credential arrived.
type Authenticator struct {
	apiToken string
	tokens   *StreamTokenService
}

// NewAuthenticator wires the two carriers. apiToken may be empty to disable
// the header carrier; tokens may be nil to disable the embedded carrier.
func NewAuthenticator(apiToken string, tokens *StreamTokenService) *Authenticator {
	return &Authenticator{apiToken: apiToken, tokens: tokens}
}

// Authenticate resolves the request's credential for a topic subscription.
// Preference order: header proof, then token embedded in the query string.
// The returned Carrier on error names the carrier that was attempted, for
// failure classification.
func (a *Authenticator) Authenticate(r *http.Request, topic string) (Identity, Carrier, error) {
	if token := BearerToken(r); token != "" {
		id, err := HeaderIdentity(r, a.apiToken)
		return id, CarrierHeader, err
	}

	if embedded := r.URL.Query().Get("token"); embedded != "" {
		if a.tokens == nil {
			return Identity{}, CarrierEmbedded, ErrInvalidCredential
		}
		id, err := a.tokens.EmbeddedIdentity(embedded, topic)
		return id, CarrierEmbedded, err
	}

	return Identity{}, CarrierHeader, ErrMissingCredential
}

// AuthenticatePublisher resolves a publish or debug request. Only the header
// carrier is accepted; embedded tokens are subscription-scoped.
func (a *Authenticator) AuthenticatePublisher(r *http.Request) (Identity, error) {
	return HeaderIdentity(r, a.apiToken)
}
