package workflow

import "github.com/davidahmann/voicebooks/pkg/types"

// Result is the closed set of parsed voice-step payloads. Each voice step has
// exactly one variant, so storage and formatting switch exhaustively instead
// of probing for fields.
type Result interface {
	Step() StepID
}

type NameResult struct {
	Name           string `json:"name"`
	IsOrganization bool   `json:"is_organization"`
}

func (NameResult) Step() StepID { return StepName }

type EmailResult struct {
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

func (EmailResult) Step() StepID { return StepEmail }

type AddressResult struct {
	Line1    string `json:"line1"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

func (AddressResult) Step() StepID { return StepAddress }

type ContactNameResult struct {
	ContactName    string `json:"contact_name"`
	IsOrganization bool   `json:"is_organization"`
}

func (ContactNameResult) Step() StepID { return StepContactName }

type DueDateResult struct {
	// DueDate is an ISO 8601 date. DaysFromNow is set when the caller spoke a
	// relative date and is kept for re-display only.
	DueDate     string `json:"due_date"`
	DaysFromNow int    `json:"days_from_now,omitempty"`
}

func (DueDateResult) Step() StepID { return StepDueDate }

type LineItemResult struct {
	Item types.LineItem `json:"item"`
}

func (LineItemResult) Step() StepID { return StepLineItem }

// apply merges a parsed result into the draft. Last write wins on
// resubmission of an already-completed step.
func apply(d *types.Draft, r Result) {
	switch v := r.(type) {
	case NameResult:
		d.Name = v.Name
		d.IsOrganization = v.IsOrganization
	case EmailResult:
		d.Email = v.Email
		d.Phone = v.Phone
	case AddressResult:
		d.Address = &types.Address{Line1: v.Line1, City: v.City, Postcode: v.Postcode, Country: v.Country}
	case ContactNameResult:
		d.ContactName = v.ContactName
		d.IsOrganization = v.IsOrganization
	case DueDateResult:
		d.DueDate = v.DueDate
	case LineItemResult:
		// Line items are two-phase: the engine stashes them as pending and
		// commits on an explicit decision, so apply is a no-op here.
	}
}
