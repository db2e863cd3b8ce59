package xero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/davidahmann/voicebooks/pkg/types"
)

// taxTypes maps the voice-facing VAT categories onto Xero tax codes.
var taxTypes = map[types.VATRate]string{
	types.VATStandard:  "OUTPUT2",
	types.VATReduced:   "REDUCED",
	types.VATZeroRated: "ZERORATEDOUTPUT",
	types.VATExempt:    "EXEMPTOUTPUT",
}

type Config struct {
	AccountsBaseURL string
	IdentityBaseURL string
	ClientID        string
	ClientSecret    string
}

func (c Config) withDefaults() Config {
	if c.AccountsBaseURL == "" {
		c.AccountsBaseURL = "https://api.xero.com/api.xro/2.0"
	}
	if c.IdentityBaseURL == "" {
		c.IdentityBaseURL = "https://identity.xero.com"
	}
	return c
}

// Client talks to the hosted Xero API. It satisfies Ledger.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg.withDefaults(),
		http: &http.Client{Timeout: 30 * time.Second},
		now:  time.Now,
	}
}

// SubmitContact creates the contact and returns its remote identity.
func (c *Client) SubmitContact(ctx context.Context, draft types.Draft, cred Credential) (SubmitResult, error) {
	contact := contactPayload(draft)
	var out struct {
		Contacts []struct {
			ContactID string `json:"ContactID"`
		} `json:"Contacts"`
	}
	if err := c.call(ctx, cred, http.MethodPost, "/Contacts", map[string]any{"Contacts": []any{contact}}, &out); err != nil {
		return SubmitResult{}, err
	}
	if len(out.Contacts) == 0 {
		return SubmitResult{}, fmt.Errorf("xero returned no contact")
	}
	return SubmitResult{RemoteID: out.Contacts[0].ContactID}, nil
}

// SubmitInvoice finds or creates the named contact, then creates a draft
// accounts-receivable invoice against it.
func (c *Client) SubmitInvoice(ctx context.Context, draft types.Draft, cred Credential) (SubmitResult, error) {
	contactID, err := c.findContactID(ctx, cred, draft.ContactName)
	if err != nil {
		return SubmitResult{}, err
	}

	contact := map[string]any{"Name": draft.ContactName}
	if contactID != "" {
		contact = map[string]any{"ContactID": contactID}
	}

	lines := make([]map[string]any, 0, len(draft.LineItems))
	for _, li := range draft.LineItems {
		lines = append(lines, map[string]any{
			"Description": li.Description,
			"Quantity":    li.Quantity,
			"UnitAmount":  li.UnitPrice,
			"AccountCode": li.AccountCode,
			"TaxType":     taxTypes[li.VATRate],
		})
	}

	invoice := map[string]any{
		"Type":      "ACCREC",
		"Status":    "DRAFT",
		"Contact":   contact,
		"Date":      c.now().UTC().Format("2006-01-02"),
		"DueDate":   draft.DueDate,
		"LineItems": lines,
	}

	var out struct {
		Invoices []struct {
			InvoiceID     string `json:"InvoiceID"`
			InvoiceNumber string `json:"InvoiceNumber"`
		} `json:"Invoices"`
	}
	if err := c.call(ctx, cred, http.MethodPost, "/Invoices", map[string]any{"Invoices": []any{invoice}}, &out); err != nil {
		return SubmitResult{}, err
	}
	if len(out.Invoices) == 0 {
		return SubmitResult{}, fmt.Errorf("xero returned no invoice")
	}
	return SubmitResult{RemoteID: out.Invoices[0].InvoiceID, Number: out.Invoices[0].InvoiceNumber}, nil
}

// Refresh exchanges the refresh token for a new grant. A rejected refresh
// token comes back as ErrReauthRequired.
func (c *Client) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.IdentityBaseURL, "/")+"/connect/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &oauthErr)
		if oauthErr.Error == "invalid_grant" {
			return Credential{}, ErrReauthRequired
		}
		return Credential{}, &APIError{Status: resp.StatusCode, Messages: []string{strings.TrimSpace(string(body))}}
	}

	var grant struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return Credential{}, fmt.Errorf("decode refresh response: %w", err)
	}

	fresh := Credential{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		TenantID:     cred.TenantID,
	}
	if grant.ExpiresIn > 0 {
		fresh.ExpiresAt = c.now().UTC().Add(time.Duration(grant.ExpiresIn) * time.Second)
	}
	return fresh, nil
}

func (c *Client) findContactID(ctx context.Context, cred Credential, name string) (string, error) {
	var out struct {
		Contacts []struct {
			ContactID string `json:"ContactID"`
		} `json:"Contacts"`
	}
	where := url.QueryEscape(fmt.Sprintf(`Name=="%s"`, strings.ReplaceAll(name, `"`, "")))
	if err := c.call(ctx, cred, http.MethodGet, "/Contacts?where="+where, nil, &out); err != nil {
		return "", err
	}
	if len(out.Contacts) == 0 {
		return "", nil
	}
	return out.Contacts[0].ContactID, nil
}

func contactPayload(draft types.Draft) map[string]any {
	contact := map[string]any{"Name": draft.Name}
	if draft.Email != "" {
		contact["EmailAddress"] = draft.Email
	}
	if draft.Phone != "" {
		contact["Phones"] = []any{map[string]any{"PhoneType": "DEFAULT", "PhoneNumber": draft.Phone}}
	}
	if draft.Address != nil {
		contact["Addresses"] = []any{map[string]any{
			"AddressType":  "POBOX",
			"AddressLine1": draft.Address.Line1,
			"City":         draft.Address.City,
			"PostalCode":   draft.Address.Postcode,
			"Country":      draft.Address.Country,
		}}
	}
	return contact
}

func (c *Client) call(ctx context.Context, cred Credential, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode xero payload: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.AccountsBaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("build xero request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Xero-tenant-id", cred.TenantID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call xero: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read xero response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuthExpired
	case resp.StatusCode >= 400:
		return &APIError{Status: resp.StatusCode, Messages: validationMessages(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode xero response: %w", err)
		}
	}
	return nil
}

// validationMessages digs the per-element validation errors out of Xero's
// nested rejection body.
func validationMessages(raw []byte) []string {
	var parsed struct {
		Message  string `json:"Message"`
		Elements []struct {
			ValidationErrors []struct {
				Message string `json:"Message"`
			} `json:"ValidationErrors"`
		} `json:"Elements"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	var msgs []string
	for _, el := range parsed.Elements {
		for _, ve := range el.ValidationErrors {
			if ve.Message != "" {
				msgs = append(msgs, ve.Message)
			}
		}
	}
	if len(msgs) == 0 && parsed.Message != "" {
		msgs = append(msgs, parsed.Message)
	}
	return msgs
}
