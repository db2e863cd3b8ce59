package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/davidahmann/voicebooks/internal/xero"
)

const tokenIssuer = "voicebooks"

// DefaultTokenTTL bounds how long a mobile bearer token stays valid before
// the client has to call the refresh endpoint.
const DefaultTokenTTL = 30 * time.Minute

type sessionClaims struct {
	jwt.RegisteredClaims

	SessionID string `json:"sid"`
}

// TokenManager mints and validates HS256 bearer tokens for mobile clients.
// The token carries only a session id; the accounting credential stays in
// the server-side session store.
type TokenManager struct {
	secret   []byte
	ttl      time.Duration
	sessions *MachineSessions
	now      func() time.Time
}

func NewTokenManager(secret []byte, sessions *MachineSessions) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	return &TokenManager{
		secret:   secret,
		ttl:      DefaultTokenTTL,
		sessions: sessions,
		now:      time.Now,
	}, nil
}

// Issue stores the credential in a fresh machine session and returns a
// bearer token referencing it.
func (m *TokenManager) Issue(cred xero.Credential) (string, time.Time, error) {
	if !cred.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: credential incomplete", ErrInvalidToken)
	}
	now := m.now().UTC()
	expires := now.Add(m.ttl)
	m.sessions.Reap()
	sid := m.sessions.Put(cred, expires)

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		SessionID: sid,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expires, nil
}

// Credential validates the bearer token and returns the session's
// credential. An expired token or a reaped session both come back as
// ErrTokenExpired so the client knows to refresh or re-authenticate.
func (m *TokenManager) Credential(token string) (xero.Credential, error) {
	sid, err := m.sessionID(token)
	if err != nil {
		return xero.Credential{}, err
	}
	cred, ok := m.sessions.Get(sid)
	if !ok {
		return xero.Credential{}, ErrTokenExpired
	}
	return cred, nil
}

// Rotate exchanges a still-valid token for a new one carrying the given
// credential, retiring the old session.
func (m *TokenManager) Rotate(token string, cred xero.Credential) (string, time.Time, error) {
	sid, err := m.sessionID(token)
	if err != nil {
		return "", time.Time{}, err
	}
	m.sessions.Delete(sid)
	return m.Issue(cred)
}

// UpdateCredential swaps the credential inside the token's session without
// reissuing the token, for in-flight refreshes mid-request.
func (m *TokenManager) UpdateCredential(token string, cred xero.Credential) error {
	sid, err := m.sessionID(token)
	if err != nil {
		return err
	}
	if !m.sessions.Update(sid, cred) {
		return ErrTokenExpired
	}
	return nil
}

func (m *TokenManager) sessionID(token string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	claims := &sessionClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	if claims.SessionID == "" {
		return "", ErrInvalidToken
	}
	return claims.SessionID, nil
}
