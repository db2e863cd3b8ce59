package voice

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/davidahmann/voicebooks/internal/workflow"
	"github.com/davidahmann/voicebooks/pkg/types"
)

const (
	maxNameLen    = 255
	maxEmailLen   = 254
	maxAddressLen = 500
	maxDescLen    = 500

	// DefaultCountry fills an address when the speaker omitted one.
	DefaultCountry = "United Kingdom"
	// DefaultAccountCode is the sales account applied to line items that do
	// not name one.
	DefaultAccountCode = "200"
)

var (
	nameRe     = regexp.MustCompile(`^[a-zA-Z0-9\s\-'.,&]+$`)
	emailRe    = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)
	phoneRe    = regexp.MustCompile(`^\+?[0-9\s\-()]{7,20}$`)
	postcodeRe = regexp.MustCompile(`^[a-zA-Z0-9\s\-]{3,12}$`)
	multiSpace = regexp.MustCompile(`\s+`)
)

// Sanitize normalizes a parsed result and rejects values the accounting
// service would bounce. Returned errors are *ValidationError.
func Sanitize(r workflow.Result) (workflow.Result, error) {
	return sanitizeAt(r, time.Now())
}

// sanitizeAt is the clock-injected body of Sanitize.
func sanitizeAt(r workflow.Result, now time.Time) (workflow.Result, error) {
	switch v := r.(type) {
	case workflow.NameResult:
		name, err := sanitizeName("name", v.Name)
		if err != nil {
			return nil, err
		}
		v.Name = name
		return v, nil

	case workflow.EmailResult:
		email, err := sanitizeEmail(v.Email)
		if err != nil {
			return nil, err
		}
		v.Email = email
		phone, err := sanitizePhone(v.Phone)
		if err != nil {
			return nil, err
		}
		v.Phone = phone
		return v, nil

	case workflow.AddressResult:
		line1 := collapse(v.Line1)
		if line1 == "" {
			return nil, &ValidationError{Field: "address", Message: "street address is required"}
		}
		if len(line1) > maxAddressLen {
			return nil, &ValidationError{Field: "address", Message: "address is too long"}
		}
		v.Line1 = line1
		v.City = collapse(v.City)
		v.Postcode = collapse(v.Postcode)
		if v.Postcode != "" && !postcodeRe.MatchString(v.Postcode) {
			return nil, &ValidationError{Field: "postcode", Message: "postcode contains invalid characters"}
		}
		if collapse(v.Country) == "" {
			v.Country = DefaultCountry
		} else {
			v.Country = collapse(v.Country)
		}
		return v, nil

	case workflow.ContactNameResult:
		name, err := sanitizeName("contact_name", v.ContactName)
		if err != nil {
			return nil, err
		}
		v.ContactName = name
		return v, nil

	case workflow.DueDateResult:
		due, err := sanitizeDueDate(v.DueDate, now)
		if err != nil {
			return nil, err
		}
		v.DueDate = due
		return v, nil

	case workflow.LineItemResult:
		item, err := sanitizeLineItem(v.Item)
		if err != nil {
			return nil, err
		}
		v.Item = item
		return v, nil
	}
	return r, nil
}

func sanitizeName(field, raw string) (string, error) {
	name := collapse(raw)
	if name == "" {
		return "", &ValidationError{Field: field, Message: "name is required"}
	}
	if len(name) > maxNameLen {
		return "", &ValidationError{Field: field, Message: "name is too long"}
	}
	if !nameRe.MatchString(name) {
		return "", &ValidationError{Field: field, Message: "name contains invalid characters"}
	}
	return name, nil
}

func sanitizeEmail(raw string) (string, error) {
	email := strings.ToLower(collapse(raw))
	if email == "" {
		return "", &ValidationError{Field: "email", Message: "email is required"}
	}
	if len(email) > maxEmailLen {
		return "", &ValidationError{Field: "email", Message: "email is too long"}
	}
	if !emailRe.MatchString(email) {
		return "", &ValidationError{Field: "email", Message: "email address looks invalid"}
	}
	return email, nil
}

func sanitizePhone(raw string) (string, error) {
	phone := collapse(raw)
	if phone == "" {
		return "", nil
	}
	if !phoneRe.MatchString(phone) {
		return "", &ValidationError{Field: "phone", Message: "phone number looks invalid"}
	}
	return phone, nil
}

func sanitizeDueDate(raw string, now time.Time) (string, error) {
	due := collapse(raw)
	if due == "" {
		return "", &ValidationError{Field: "due_date", Message: "due date is required"}
	}
	d, err := time.Parse("2006-01-02", due)
	if err != nil {
		return "", &ValidationError{Field: "due_date", Message: "due date must be a calendar date"}
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d.Before(today) {
		return "", &ValidationError{Field: "due_date", Message: "due date cannot be in the past"}
	}
	return d.Format("2006-01-02"), nil
}

func sanitizeLineItem(item types.LineItem) (types.LineItem, error) {
	desc := collapse(item.Description)
	if desc == "" {
		return types.LineItem{}, &ValidationError{Field: "description", Message: "description is required"}
	}
	if len(desc) > maxDescLen {
		return types.LineItem{}, &ValidationError{Field: "description", Message: "description is too long"}
	}
	item.Description = desc

	if item.Quantity <= 0 {
		return types.LineItem{}, &ValidationError{Field: "quantity", Message: "quantity must be greater than zero"}
	}
	if item.UnitPrice < 0 {
		return types.LineItem{}, &ValidationError{Field: "unit_price", Message: "unit price cannot be negative"}
	}
	if item.AccountCode == "" {
		item.AccountCode = DefaultAccountCode
	}
	if item.VATRate == "" {
		item.VATRate = types.VATStandard
	} else {
		rate, ok := types.ParseVATRate(string(item.VATRate))
		if !ok {
			return types.LineItem{}, &ValidationError{Field: "vat_rate", Message: "unrecognized VAT rate"}
		}
		item.VATRate = rate
	}
	return item, nil
}

// SanitizeField applies the same per-field rules to a direct draft edit that
// the voice path applies to parsed results. Line-item fields arrive as
// line_item_<index>_<field>; numeric and enum parsing stays with the session,
// which owns the committed items. Unrecognized names pass through with
// whitespace collapsed so the session can reject them.
func SanitizeField(name, value string) (string, error) {
	return sanitizeFieldAt(name, value, time.Now())
}

func sanitizeFieldAt(name, value string, now time.Time) (string, error) {
	field := name
	if strings.HasPrefix(field, "line_item_") {
		rest := strings.TrimPrefix(field, "line_item_")
		if sep := strings.Index(rest, "_"); sep > 0 {
			field = rest[sep+1:]
		}
	}

	switch field {
	case "name", "contact_name":
		return sanitizeName(field, value)
	case "email":
		return sanitizeEmail(value)
	case "phone":
		return sanitizePhone(value)
	case "address_line1":
		line1 := collapse(value)
		if line1 == "" {
			return "", &ValidationError{Field: field, Message: "street address is required"}
		}
		if len(line1) > maxAddressLen {
			return "", &ValidationError{Field: field, Message: "address is too long"}
		}
		return line1, nil
	case "address_postcode":
		postcode := collapse(value)
		if postcode != "" && !postcodeRe.MatchString(postcode) {
			return "", &ValidationError{Field: field, Message: "postcode contains invalid characters"}
		}
		return postcode, nil
	case "due_date":
		return sanitizeDueDate(value, now)
	case "description":
		desc := collapse(value)
		if len(desc) > maxDescLen {
			return "", &ValidationError{Field: field, Message: "description is too long"}
		}
		return desc, nil
	}
	return collapse(value), nil
}

func collapse(s string) string {
	return strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
}

// Describe renders a result for transcripts and review screens.
func Describe(r workflow.Result) string {
	switch v := r.(type) {
	case workflow.NameResult:
		return v.Name
	case workflow.EmailResult:
		if v.Phone != "" {
			return fmt.Sprintf("%s / %s", v.Email, v.Phone)
		}
		return v.Email
	case workflow.AddressResult:
		parts := []string{v.Line1}
		for _, p := range []string{v.City, v.Postcode, v.Country} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, ", ")
	case workflow.ContactNameResult:
		return v.ContactName
	case workflow.DueDateResult:
		return v.DueDate
	case workflow.LineItemResult:
		return fmt.Sprintf("%s x%g @ %.2f", v.Item.Description, v.Item.Quantity, v.Item.UnitPrice)
	}
	return ""
}
