package types

import "time"

// WorkflowKind identifies which record a session is building.
type WorkflowKind string

const (
	KindContact WorkflowKind = "contact"
	KindInvoice WorkflowKind = "invoice"
)

// VATRate is the user-facing rate category collected by voice. The accounting
// client maps it onto the remote service's tax codes.
type VATRate string

const (
	VATStandard  VATRate = "standard"
	VATReduced   VATRate = "reduced"
	VATZeroRated VATRate = "zero_rated"
	VATExempt    VATRate = "exempt"
)

// ParseVATRate normalizes free-form rate text to a known category.
func ParseVATRate(s string) (VATRate, bool) {
	switch VATRate(s) {
	case VATStandard, VATReduced, VATZeroRated, VATExempt:
		return VATRate(s), true
	}
	return "", false
}

// LineItem is one committed invoice line.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	AccountCode string  `json:"account_code"`
	VATRate     VATRate `json:"vat_rate"`
}

// Total returns quantity x unit price for the line.
func (li LineItem) Total() float64 {
	return li.Quantity * li.UnitPrice
}

type Address struct {
	Line1    string `json:"line1"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

// Draft accumulates validated field values for one session. Contact sessions
// populate the contact fields, invoice sessions the invoice ones.
type Draft struct {
	Name           string   `json:"name,omitempty"`
	IsOrganization bool     `json:"is_organization,omitempty"`
	Email          string   `json:"email,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Address        *Address `json:"address,omitempty"`

	ContactName string     `json:"contact_name,omitempty"`
	DueDate     string     `json:"due_date,omitempty"`
	LineItems   []LineItem `json:"line_items,omitempty"`
}

// InvoiceTotal sums the committed line totals.
func (d *Draft) InvoiceTotal() float64 {
	var total float64
	for _, li := range d.LineItems {
		total += li.Total()
	}
	return total
}

// SessionSnapshot is the external serialized form of a session. Snapshots
// round-trip: restoring one yields an identical draft, current step, and
// completed-step list.
type SessionSnapshot struct {
	SessionID      string            `json:"session_id"`
	WorkflowKind   WorkflowKind      `json:"workflow_kind"`
	CurrentStep    string            `json:"current_step"`
	CompletedSteps []string          `json:"completed_steps"`
	Draft          Draft             `json:"draft"`
	PendingItem    *LineItem         `json:"pending_item,omitempty"`
	Transcripts    map[string]string `json:"transcripts,omitempty"`
	StepErrors     map[string]string `json:"step_errors,omitempty"`
	Progress       float64           `json:"progress"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// StepState is the logical per-step response payload shared by both response
// channels.
type StepState struct {
	SessionID            string       `json:"session_id"`
	WorkflowKind         WorkflowKind `json:"workflow_kind"`
	CurrentStep          string       `json:"current_step"`
	StepPrompt           string       `json:"step_prompt"`
	CompletedSteps       []string     `json:"completed_steps"`
	Progress             float64      `json:"progress"`
	Draft                Draft        `json:"draft"`
	PendingItem          *LineItem    `json:"pending_item,omitempty"`
	Transcript           string       `json:"transcript,omitempty"`
	CanConfirm           bool         `json:"can_confirm"`
	InvoiceTotal         float64      `json:"invoice_total,omitempty"`
	RemoteID             string       `json:"remote_id,omitempty"`
	RequiresItemDecision bool         `json:"requires_item_decision,omitempty"`
}
