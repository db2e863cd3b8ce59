package workflow

import (
	"github.com/davidahmann/voicebooks/pkg/types"
)

type StepID string

const (
	StepWelcome     StepID = "welcome"
	StepName        StepID = "name"
	StepEmail       StepID = "email"
	StepAddress     StepID = "address"
	StepContactName StepID = "contact_name"
	StepDueDate     StepID = "due_date"
	StepLineItem    StepID = "line_item"
	StepReview      StepID = "review"
	StepFinalSubmit StepID = "final_submit"
	StepComplete    StepID = "complete"
)

// Step declares one entry in a catalog. Voice steps run the voice pipeline;
// control steps advance on an explicit user action only.
type Step struct {
	ID       StepID
	Prompt   string
	Voice    bool
	Complete func(d *types.Draft) bool
}

// Catalog is the ordered step list for one workflow kind. LoopStep names the
// repeatable sub-collection step ("" when the kind has none).
type Catalog struct {
	Kind         types.WorkflowKind
	Steps        []Step
	LoopStep     StepID
	MaxLineItems int
}

func (c *Catalog) Initial() StepID {
	return c.Steps[0].ID
}

func (c *Catalog) Index(id StepID) int {
	for i, s := range c.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (c *Catalog) Contains(id StepID) bool {
	return c.Index(id) >= 0
}

func (c *Catalog) Step(id StepID) (Step, bool) {
	if i := c.Index(id); i >= 0 {
		return c.Steps[i], true
	}
	return Step{}, false
}

func (c *Catalog) Prompt(id StepID) string {
	if s, ok := c.Step(id); ok {
		return s.Prompt
	}
	return ""
}

// StepIDs returns the ordered vocabulary of the catalog.
func (c *Catalog) StepIDs() []StepID {
	out := make([]StepID, len(c.Steps))
	for i, s := range c.Steps {
		out[i] = s.ID
	}
	return out
}

func always(*types.Draft) bool { return true }

// ContactCatalog builds the contact workflow step list.
func ContactCatalog() *Catalog {
	return &Catalog{
		Kind: types.KindContact,
		Steps: []Step{
			{ID: StepWelcome, Prompt: "Welcome! Let's create a new contact. Press start to begin.", Complete: always},
			{ID: StepName, Prompt: "Please say the contact's full name or organization name.", Voice: true,
				Complete: func(d *types.Draft) bool { return d.Name != "" }},
			{ID: StepEmail, Prompt: "Please say the contact's email address, and a phone number if you have one.", Voice: true,
				Complete: func(d *types.Draft) bool { return d.Email != "" }},
			{ID: StepAddress, Prompt: "Please say the contact's address: street, city, and postcode.", Voice: true,
				Complete: func(d *types.Draft) bool { return d.Address != nil && d.Address.Line1 != "" }},
			{ID: StepReview, Prompt: "Review the contact details, then confirm to proceed.", Complete: always},
			{ID: StepFinalSubmit, Prompt: "Ready to create this contact in your accounting system.", Complete: always},
			{ID: StepComplete, Prompt: "Contact created successfully.", Complete: always},
		},
	}
}

// InvoiceCatalog builds the invoice workflow step list, including the
// repeatable line-item step.
func InvoiceCatalog() *Catalog {
	return &Catalog{
		Kind:         types.KindInvoice,
		LoopStep:     StepLineItem,
		MaxLineItems: 10,
		Steps: []Step{
			{ID: StepWelcome, Prompt: "Welcome! Let's create a new invoice. Press start to begin.", Complete: always},
			{ID: StepContactName, Prompt: "Please say the contact's full name or organization name.", Voice: true,
				Complete: func(d *types.Draft) bool { return d.ContactName != "" }},
			{ID: StepDueDate, Prompt: "Please say the due date for the invoice, for example 'in 30 days' or 'December 31st'.", Voice: true,
				Complete: func(d *types.Draft) bool { return d.DueDate != "" }},
			{ID: StepLineItem, Prompt: "Please describe the line item: what it is, quantity, price, and VAT rate.", Voice: true,
				Complete: func(d *types.Draft) bool { return len(d.LineItems) > 0 }},
			{ID: StepReview, Prompt: "Review the invoice details, then confirm to proceed.", Complete: always},
			{ID: StepFinalSubmit, Prompt: "Ready to create this invoice in your accounting system.", Complete: always},
			{ID: StepComplete, Prompt: "Invoice created successfully.", Complete: always},
		},
	}
}

// Catalogs returns the built-in catalogs keyed by kind.
func Catalogs() map[types.WorkflowKind]*Catalog {
	return map[types.WorkflowKind]*Catalog{
		types.KindContact: ContactCatalog(),
		types.KindInvoice: InvoiceCatalog(),
	}
}
