// Package auth resolves request credentials to a user identity. It is a
// deliberately thin collaborator: a static token registry loaded from
// configuration. The capture core never sees tokens, only the resolved
// opaque user id.
package auth

import (
	"net/http"
	"strings"
)

// Authenticator maps API tokens to user identities.
type Authenticator struct {
	tokens map[string]string
}

func New(tokens map[string]string) *Authenticator {
	m := make(map[string]string, len(tokens))
	for tok, user := range tokens {
		m[tok] = user
	}
	return &Authenticator{tokens: m}
}

// UserForToken resolves a token to its user identity.
func (a *Authenticator) UserForToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	user, ok := a.tokens[token]
	return user, ok
}

// TokenFromRequest extracts the credential from an inbound request:
// "Authorization: Bearer <token>" or the X-Api-Key header.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
	}
	return r.Header.Get("X-Api-Key")
}
