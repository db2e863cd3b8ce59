// Package gemini extracts structured step fields from voice transcripts with
// the Gemini API. Each voice step has its own instruction and response
// schema, so the model is constrained to exactly the fields the step needs.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/davidahmann/voicebooks/internal/voice"
	"github.com/davidahmann/voicebooks/internal/workflow"
	"github.com/davidahmann/voicebooks/pkg/types"
)

// requestTimeout bounds each generate-content call.
const requestTimeout = 30 * time.Second

type Config struct {
	APIKey string
	Model  string
}

// Extractor implements voice.Extractor against the Gemini API.
type Extractor struct {
	client *genai.Client
	model  string
	now    func() time.Time
}

func NewExtractor(ctx context.Context, cfg Config) (*Extractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &Extractor{client: client, model: cfg.Model, now: time.Now}, nil
}

func (e *Extractor) Extract(ctx context.Context, step workflow.StepID, transcript string) (workflow.Result, error) {
	instruction, schema, err := stepPrompt(step)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	temp := float32(0)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		Temperature:       &temp,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
	}
	contents := []*genai.Content{genai.NewContentFromText(transcript, genai.RoleUser)}

	res, err := e.client.Models.GenerateContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned empty text")
	}
	return decodeResult(step, []byte(text), e.now())
}

// decodeResult maps the model's JSON onto the step's result variant. A
// payload whose primary field is blank means the model heard nothing usable.
func decodeResult(step workflow.StepID, raw []byte, now time.Time) (workflow.Result, error) {
	var payload stepPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", voice.ErrNoParse, err)
	}

	switch step {
	case workflow.StepName:
		if strings.TrimSpace(payload.Name) == "" {
			return nil, voice.ErrNoParse
		}
		return workflow.NameResult{Name: payload.Name, IsOrganization: payload.IsOrganization}, nil

	case workflow.StepEmail:
		if strings.TrimSpace(payload.Email) == "" {
			return nil, voice.ErrNoParse
		}
		return workflow.EmailResult{Email: payload.Email, Phone: payload.Phone}, nil

	case workflow.StepAddress:
		if strings.TrimSpace(payload.Line1) == "" {
			return nil, voice.ErrNoParse
		}
		return workflow.AddressResult{
			Line1:    payload.Line1,
			City:     payload.City,
			Postcode: payload.Postcode,
			Country:  payload.Country,
		}, nil

	case workflow.StepContactName:
		if strings.TrimSpace(payload.ContactName) == "" {
			return nil, voice.ErrNoParse
		}
		return workflow.ContactNameResult{ContactName: payload.ContactName, IsOrganization: payload.IsOrganization}, nil

	case workflow.StepDueDate:
		if payload.DueDate != "" {
			return workflow.DueDateResult{DueDate: payload.DueDate}, nil
		}
		if payload.DaysFromNow != nil && *payload.DaysFromNow >= 0 {
			due := now.AddDate(0, 0, *payload.DaysFromNow).Format("2006-01-02")
			return workflow.DueDateResult{DueDate: due, DaysFromNow: *payload.DaysFromNow}, nil
		}
		return nil, voice.ErrNoParse

	case workflow.StepLineItem:
		if strings.TrimSpace(payload.Description) == "" {
			return nil, voice.ErrNoParse
		}
		item := types.LineItem{
			Description: payload.Description,
			Quantity:    payload.Quantity,
			UnitPrice:   payload.UnitPrice,
			AccountCode: payload.AccountCode,
			VATRate:     types.VATRate(payload.VATRate),
		}
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		return workflow.LineItemResult{Item: item}, nil
	}
	return nil, fmt.Errorf("%w: step %s takes no voice input", voice.ErrNoParse, step)
}

// stepPayload is the union of every step schema's fields. The schemas keep
// the model from filling fields outside its step.
type stepPayload struct {
	Name           string `json:"name"`
	IsOrganization bool   `json:"is_organization"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Line1          string `json:"line1"`
	City           string `json:"city"`
	Postcode       string `json:"postcode"`
	Country        string `json:"country"`
	ContactName    string `json:"contact_name"`
	DueDate        string `json:"due_date"`
	DaysFromNow    *int   `json:"days_from_now"`

	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	AccountCode string  `json:"account_code"`
	VATRate     string  `json:"vat_rate"`
}
