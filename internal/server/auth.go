package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// LocalOwner is the owner every request resolves to when no tokens are
// configured (single-user mode).
const LocalOwner = "local"

var (
	// ErrNoToken indicates the request carried no credentials.
	ErrNoToken = errors.New("missing bearer token")

	// ErrBadToken indicates the presented token matched no owner.
	ErrBadToken = errors.New("unknown bearer token")
)

// Authenticator resolves the owner behind a request from its bearer token.
// The sync engine trusts the owner string completely, so resolution must
// happen before any handler runs.
type Authenticator struct {
	tokens map[string]string
}

// NewAuthenticator builds an authenticator from a token-to-owner map. A
// nil or empty map enables single-user mode.
func NewAuthenticator(tokens map[string]string) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// Owner resolves the request's owner. Tokens arrive as an Authorization
// bearer header, or as a "token" query parameter for WebSocket dials
// where browsers cannot set headers.
func (a *Authenticator) Owner(r *http.Request) (string, error) {
	if len(a.tokens) == 0 {
		return LocalOwner, nil
	}

	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		token = q
	}
	if token == "" {
		return "", ErrNoToken
	}

	for candidate, owner := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return owner, nil
		}
	}
	return "", ErrBadToken
}

// Require wraps a handler with owner resolution, rejecting unauthenticated
// requests with 401.
func (a *Authenticator) Require(next func(w http.ResponseWriter, r *http.Request, owner string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := a.Owner(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="modulo"`)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r, owner)
	}
}
