package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/davidahmann/voicebooks/pkg/types"
)

// Advance moves the session to the next catalog step. On the loop step with a
// pending item the session stays put until the item is resolved. Returns
// false when the session is already on the terminal step.
func (s *Session) Advance() (StepID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked()
}

func (s *Session) advanceLocked() (StepID, bool) {
	if s.currentStep == s.catalog.LoopStep && s.pendingItem != nil {
		return s.currentStep, true
	}

	idx := s.catalog.Index(s.currentStep)
	if idx < 0 || idx >= len(s.catalog.Steps)-1 {
		return "", false
	}
	s.currentStep = s.catalog.Steps[idx+1].ID
	s.touch()
	return s.currentStep, true
}

// GoTo navigates to target. Legal targets: any completed step (backward
// revisit), the current step (no-op), or the immediate successor when the
// current step's data is complete. Everything else is rejected so required
// collection cannot be skipped. While a line item awaits its
// add-another / proceed decision the session is pinned to the loop step.
func (s *Session) GoTo(target StepID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.catalog.Contains(target) {
		return ErrInvalidStep
	}
	if target == s.currentStep {
		s.touch()
		return nil
	}
	if s.currentStep == s.catalog.LoopStep && s.pendingItem != nil {
		return ErrPendingItem
	}
	if s.isCompleted(target) {
		s.currentStep = target
		s.touch()
		return nil
	}

	curIdx := s.catalog.Index(s.currentStep)
	if s.catalog.Index(target) == curIdx+1 {
		step := s.catalog.Steps[curIdx]
		if step.Complete != nil && step.Complete(&s.draft) {
			s.currentStep = target
			s.touch()
			return nil
		}
		return ErrStepIncomplete
	}
	return ErrIllegalTransition
}

// MarkComplete merges a parsed result into the draft and records the step as
// completed. Resubmission overwrites the stored transcript, result, and draft
// fields without duplicating the completed-steps entry.
func (s *Session) MarkComplete(step StepID, transcript string, res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.catalog.Contains(step) {
		return ErrInvalidStep
	}

	if res != nil {
		apply(&s.draft, res)
		s.parsedResults[step] = res
	}
	if transcript != "" {
		s.transcripts[step] = transcript
	}
	if !s.isCompleted(step) {
		s.completedSteps = append(s.completedSteps, step)
	}
	delete(s.stepErrors, step)
	s.touch()
	return nil
}

// StashPending stores a parsed line item awaiting the caller's
// add-another / proceed decision. The loop step is deliberately not marked
// complete here; that happens once, when the caller proceeds to review.
func (s *Session) StashPending(item types.LineItem, transcript string, res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.catalog.LoopStep == "" {
		return ErrNotLoopStep
	}
	if s.currentStep != s.catalog.LoopStep {
		return ErrIllegalTransition
	}

	it := item
	s.pendingItem = &it
	s.transcripts[s.catalog.LoopStep] = transcript
	if res != nil {
		s.parsedResults[s.catalog.LoopStep] = res
	}
	delete(s.stepErrors, s.catalog.LoopStep)
	s.touch()
	return nil
}

// CommitPending commits the pending line item into the draft. With
// addAnother the session stays on the loop step for a new iteration;
// otherwise the loop step is marked complete (once, however many times it
// looped) and the session advances. A full line-item list rejects the commit
// and leaves the draft unchanged.
func (s *Session) CommitPending(addAnother bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.catalog.LoopStep == "" {
		return ErrNotLoopStep
	}
	if s.pendingItem == nil {
		return ErrNoPendingItem
	}
	if len(s.draft.LineItems) >= s.catalog.MaxLineItems {
		return ErrLineItemLimit
	}

	s.draft.LineItems = append(s.draft.LineItems, *s.pendingItem)
	s.pendingItem = nil

	if addAnother {
		s.currentStep = s.catalog.LoopStep
		s.touch()
		return nil
	}

	if !s.isCompleted(s.catalog.LoopStep) {
		s.completedSteps = append(s.completedSteps, s.catalog.LoopStep)
	}
	delete(s.stepErrors, s.catalog.LoopStep)
	s.advanceLocked()
	s.touch()
	return nil
}

// SetStepError records a step-scoped failure for re-display. The committed
// draft is untouched.
func (s *Session) SetStepError(step StepID, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepErrors[step] = msg
	s.touch()
}

// CanAdvance reports whether the current step's completion predicate holds.
func (s *Session) CanAdvance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.catalog.Step(s.currentStep)
	if !ok || step.Complete == nil {
		return false
	}
	return step.Complete(&s.draft)
}

// UpdateField edits a single draft field by name. Committed line items are
// addressed as line_item_<index>_<field>, e.g. line_item_0_unit_price.
func (s *Session) UpdateField(name string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value = strings.TrimSpace(value)

	if strings.HasPrefix(name, "line_item_") {
		return s.updateLineItemFieldLocked(strings.TrimPrefix(name, "line_item_"), value)
	}

	switch name {
	case "name":
		s.draft.Name = value
	case "is_organization":
		s.draft.IsOrganization = value == "true" || value == "1"
	case "email":
		s.draft.Email = strings.ToLower(value)
	case "phone":
		s.draft.Phone = value
	case "address_line1", "address_city", "address_postcode", "address_country":
		if s.draft.Address == nil {
			s.draft.Address = &types.Address{}
		}
		switch name {
		case "address_line1":
			s.draft.Address.Line1 = value
		case "address_city":
			s.draft.Address.City = value
		case "address_postcode":
			s.draft.Address.Postcode = value
		case "address_country":
			s.draft.Address.Country = value
		}
	case "contact_name":
		s.draft.ContactName = value
	case "due_date":
		s.draft.DueDate = value
	default:
		return ErrUnknownField
	}
	s.touch()
	return nil
}

func (s *Session) updateLineItemFieldLocked(rest string, value string) error {
	sep := strings.Index(rest, "_")
	if sep <= 0 {
		return ErrUnknownField
	}
	idx, err := strconv.Atoi(rest[:sep])
	if err != nil || idx < 0 || idx >= len(s.draft.LineItems) {
		return ErrUnknownField
	}
	field := rest[sep+1:]
	item := &s.draft.LineItems[idx]

	switch field {
	case "description":
		if value == "" {
			return fmt.Errorf("%w: description", ErrInvalidFieldValue)
		}
		item.Description = value
	case "quantity":
		q, err := strconv.ParseFloat(value, 64)
		if err != nil || q <= 0 {
			return fmt.Errorf("%w: quantity", ErrInvalidFieldValue)
		}
		item.Quantity = q
	case "unit_price":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil || p < 0 {
			return fmt.Errorf("%w: unit_price", ErrInvalidFieldValue)
		}
		item.UnitPrice = p
	case "account_code":
		item.AccountCode = value
	case "vat_rate":
		rate, ok := types.ParseVATRate(value)
		if !ok {
			return fmt.Errorf("%w: vat_rate", ErrInvalidFieldValue)
		}
		item.VATRate = rate
	default:
		return ErrUnknownField
	}
	s.touch()
	return nil
}
