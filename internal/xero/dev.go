package xero

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/voicebooks/pkg/types"
)

// DevLedger accepts every submission and mints local identifiers. It lets the
// whole flow run end to end without a Xero tenant.
type DevLedger struct {
	mu       sync.Mutex
	seq      int
	Contacts []types.Draft
	Invoices []types.Draft
}

func (d *DevLedger) SubmitContact(_ context.Context, draft types.Draft, _ Credential) (SubmitResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Contacts = append(d.Contacts, draft)
	return SubmitResult{RemoteID: uuid.NewString()}, nil
}

func (d *DevLedger) SubmitInvoice(_ context.Context, draft types.Draft, _ Credential) (SubmitResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.Invoices = append(d.Invoices, draft)
	return SubmitResult{RemoteID: uuid.NewString(), Number: fmt.Sprintf("DEV-%04d", d.seq)}, nil
}

func (d *DevLedger) Refresh(_ context.Context, cred Credential) (Credential, error) {
	cred.AccessToken = "dev-access-" + uuid.NewString()
	cred.ExpiresAt = time.Now().UTC().Add(30 * time.Minute)
	return cred, nil
}
