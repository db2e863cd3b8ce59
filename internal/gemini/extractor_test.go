package gemini

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/davidahmann/voicebooks/internal/voice"
	"github.com/davidahmann/voicebooks/internal/workflow"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestDecodeName(t *testing.T) {
	res, err := decodeResult(workflow.StepName, []byte(`{"name":"Acme Ltd","is_organization":true}`), testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	name := res.(workflow.NameResult)
	if name.Name != "Acme Ltd" || !name.IsOrganization {
		t.Fatalf("unexpected result %+v", name)
	}
}

func TestDecodeEmptyPrimaryFieldIsNoParse(t *testing.T) {
	_, err := decodeResult(workflow.StepName, []byte(`{"name":"  "}`), testNow)
	if !errors.Is(err, voice.ErrNoParse) {
		t.Fatalf("expected no-parse, got %v", err)
	}
	_, err = decodeResult(workflow.StepEmail, []byte(`{"email":""}`), testNow)
	if !errors.Is(err, voice.ErrNoParse) {
		t.Fatalf("expected no-parse, got %v", err)
	}
}

func TestDecodeMalformedJSONIsNoParse(t *testing.T) {
	_, err := decodeResult(workflow.StepName, []byte(`not json`), testNow)
	if !errors.Is(err, voice.ErrNoParse) {
		t.Fatalf("expected no-parse, got %v", err)
	}
}

func TestDecodeDueDateAbsolute(t *testing.T) {
	res, err := decodeResult(workflow.StepDueDate, []byte(`{"due_date":"2026-04-01"}`), testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.(workflow.DueDateResult).DueDate; got != "2026-04-01" {
		t.Fatalf("unexpected due date %q", got)
	}
}

func TestDecodeDueDateRelative(t *testing.T) {
	res, err := decodeResult(workflow.StepDueDate, []byte(`{"due_date":"","days_from_now":14}`), testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	due := res.(workflow.DueDateResult)
	if due.DueDate != "2026-03-24" || due.DaysFromNow != 14 {
		t.Fatalf("unexpected result %+v", due)
	}
}

func TestDecodeDueDateMissingBothIsNoParse(t *testing.T) {
	_, err := decodeResult(workflow.StepDueDate, []byte(`{"due_date":""}`), testNow)
	if !errors.Is(err, voice.ErrNoParse) {
		t.Fatalf("expected no-parse, got %v", err)
	}
}

func TestDecodeLineItemDefaultsQuantity(t *testing.T) {
	res, err := decodeResult(workflow.StepLineItem, []byte(`{"description":"Consulting","unit_price":150}`), testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	item := res.(workflow.LineItemResult).Item
	if item.Quantity != 1 {
		t.Fatalf("expected quantity default 1, got %g", item.Quantity)
	}
	if item.UnitPrice != 150 {
		t.Fatalf("unexpected unit price %g", item.UnitPrice)
	}
}

func TestDecodeNonVoiceStep(t *testing.T) {
	_, err := decodeResult(workflow.StepReview, []byte(`{}`), testNow)
	if !errors.Is(err, voice.ErrNoParse) {
		t.Fatalf("expected no-parse, got %v", err)
	}
}

func TestStepPromptSchemas(t *testing.T) {
	voiceSteps := []workflow.StepID{
		workflow.StepName,
		workflow.StepEmail,
		workflow.StepAddress,
		workflow.StepContactName,
		workflow.StepDueDate,
		workflow.StepLineItem,
	}
	for _, step := range voiceSteps {
		instruction, schema, err := stepPrompt(step)
		if err != nil {
			t.Fatalf("step %s: unexpected error %v", step, err)
		}
		if instruction == "" {
			t.Fatalf("step %s: empty instruction", step)
		}
		if schema == nil || schema.Type != genai.TypeObject || len(schema.Properties) == 0 {
			t.Fatalf("step %s: missing schema", step)
		}
	}
	if _, _, err := stepPrompt(workflow.StepReview); err == nil {
		t.Fatalf("expected error for non-voice step")
	}
}
