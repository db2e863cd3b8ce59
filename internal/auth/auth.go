// Package auth resolves the accounting credential a request carries. Mobile
// clients hold a bearer token referencing a server-side session; browser
// clients hold the credential itself in a signed cookie.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/davidahmann/voicebooks/internal/xero"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
)

// SessionCookie is the name of the browser credential cookie.
const SessionCookie = "xero_session"

// Resolver checks the bearer channel first and falls back to the cookie.
type Resolver struct {
	Tokens  *TokenManager
	Cookies *CookieCodec
}

// Resolved pairs the credential with its channel. Bearer is set when the
// credential came from a token, so a refreshed credential can be written back
// to the right place.
type Resolved struct {
	Credential xero.Credential
	Bearer     string
}

// Resolve extracts the accounting credential from the request, or reports
// why it could not.
func (rs *Resolver) Resolve(r *http.Request) (xero.Credential, error) {
	res, err := rs.ResolveRequest(r)
	return res.Credential, err
}

func (rs *Resolver) ResolveRequest(r *http.Request) (Resolved, error) {
	if bearer, err := extractBearer(r); err == nil {
		cred, err := rs.Tokens.Credential(bearer)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Credential: cred, Bearer: bearer}, nil
	} else if !errors.Is(err, ErrMissingCredential) {
		return Resolved{}, err
	}

	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return Resolved{}, ErrMissingCredential
	}
	cred, err := rs.Cookies.Decode(cookie.Value)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Credential: cred}, nil
}

func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingCredential
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
