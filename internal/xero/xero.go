// Package xero submits completed drafts to the Xero accounting API and
// refreshes the OAuth credential a caller holds for it.
package xero

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davidahmann/voicebooks/pkg/types"
)

var (
	// ErrAuthExpired marks a call rejected for a stale access token. The
	// credential may still be refreshable.
	ErrAuthExpired = errors.New("accounting access token expired")
	// ErrReauthRequired marks a credential whose refresh token is no longer
	// accepted. The user has to sign in to the accounting service again.
	ErrReauthRequired = errors.New("accounting connection requires re-authorization")
)

// Credential is the per-user grant against the accounting service. The
// gateway never persists it server-side for browser clients; it travels in a
// signed cookie or a mobile session.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TenantID     string    `json:"tenant_id"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

func (c Credential) Valid() bool {
	return c.AccessToken != "" && c.TenantID != ""
}

// APIError is a structured rejection from the accounting API.
type APIError struct {
	Status   int
	Messages []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("xero returned %d", e.Status)
	}
	return fmt.Sprintf("xero returned %d: %s", e.Status, strings.Join(e.Messages, "; "))
}

// Validation reports whether the rejection names bad record data rather than
// a transport or auth failure.
func (e *APIError) Validation() bool {
	return e.Status == 400
}

// SubmitResult is the remote identity of a created record.
type SubmitResult struct {
	RemoteID string
	Number   string
}

// Ledger is the submission surface the HTTP layer depends on.
type Ledger interface {
	SubmitContact(ctx context.Context, draft types.Draft, cred Credential) (SubmitResult, error)
	SubmitInvoice(ctx context.Context, draft types.Draft, cred Credential) (SubmitResult, error)
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}
