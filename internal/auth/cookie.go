package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/davidahmann/voicebooks/internal/xero"
)

// CookieCodec signs the accounting credential into a browser cookie value and
// verifies it on the way back in. The value is payload.signature, with the
// payload base64url JSON and the signature an HMAC-SHA256 over the payload.
type CookieCodec struct {
	secret []byte
}

func NewCookieCodec(secret []byte) (*CookieCodec, error) {
	if len(secret) < 32 {
		return nil, errors.New("cookie secret must be at least 32 bytes")
	}
	return &CookieCodec{secret: secret}, nil
}

func (c *CookieCodec) Encode(cred xero.Credential) (string, error) {
	if !cred.Valid() {
		return "", fmt.Errorf("%w: credential incomplete", ErrInvalidToken)
	}
	payload, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(encoded), nil
}

func (c *CookieCodec) Decode(value string) (xero.Credential, error) {
	encoded, sig, ok := strings.Cut(value, ".")
	if !ok {
		return xero.Credential{}, ErrInvalidToken
	}
	expected := c.sign(encoded)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return xero.Credential{}, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return xero.Credential{}, ErrInvalidToken
	}
	var cred xero.Credential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return xero.Credential{}, ErrInvalidToken
	}
	if !cred.Valid() {
		return xero.Credential{}, ErrInvalidToken
	}
	return cred, nil
}

// Cookie builds the Set-Cookie value for a credential.
func (c *CookieCodec) Cookie(cred xero.Credential) (*http.Cookie, error) {
	value, err := c.Encode(cred)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int((24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

func (c *CookieCodec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
