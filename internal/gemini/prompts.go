package gemini

import (
	"fmt"

	"google.golang.org/genai"

	"github.com/davidahmann/voicebooks/internal/voice"
	"github.com/davidahmann/voicebooks/internal/workflow"
)

const promptPreamble = "You extract structured fields from a spoken transcript for a bookkeeping assistant. " +
	"The transcript comes from speech recognition and may contain filler words or spelled-out values. " +
	"Return only the JSON object. Leave a field empty when the speaker did not provide it."

func stepPrompt(step workflow.StepID) (string, *genai.Schema, error) {
	switch step {
	case workflow.StepName:
		return promptPreamble + " The speaker is naming a customer. Decide whether it is a person or an organization " +
				"(company suffixes like Ltd, Limited, LLC, Inc mean organization).",
			objectSchema(map[string]*genai.Schema{
				"name":            {Type: genai.TypeString, Description: "The customer's full name"},
				"is_organization": {Type: genai.TypeBoolean},
			}, "name"), nil

	case workflow.StepEmail:
		return promptPreamble + " The speaker is giving contact details. Convert spoken email addresses " +
				"('jane dot doe at example dot com') to standard form. A phone number is optional.",
			objectSchema(map[string]*genai.Schema{
				"email": {Type: genai.TypeString},
				"phone": {Type: genai.TypeString},
			}, "email"), nil

	case workflow.StepAddress:
		return promptPreamble + " The speaker is giving a postal address. Split it into street line, city, " +
				"postcode, and country.",
			objectSchema(map[string]*genai.Schema{
				"line1":    {Type: genai.TypeString, Description: "Street number and name"},
				"city":     {Type: genai.TypeString},
				"postcode": {Type: genai.TypeString},
				"country":  {Type: genai.TypeString},
			}, "line1"), nil

	case workflow.StepContactName:
		return promptPreamble + " The speaker is naming the customer an invoice is for. Decide whether it is a " +
				"person or an organization.",
			objectSchema(map[string]*genai.Schema{
				"contact_name":    {Type: genai.TypeString},
				"is_organization": {Type: genai.TypeBoolean},
			}, "contact_name"), nil

	case workflow.StepDueDate:
		return promptPreamble + " The speaker is giving an invoice due date. For an absolute date set due_date " +
				"as YYYY-MM-DD. For a relative date ('in two weeks', 'in 30 days') set days_from_now instead and " +
				"leave due_date empty.",
			objectSchema(map[string]*genai.Schema{
				"due_date":      {Type: genai.TypeString, Description: "Absolute date in YYYY-MM-DD form"},
				"days_from_now": {Type: genai.TypeInteger},
			}), nil

	case workflow.StepLineItem:
		return promptPreamble + " The speaker is describing one invoice line: what was sold, how many, and the " +
				"price per unit. vat_rate is one of standard, reduced, zero_rated, exempt when mentioned.",
			objectSchema(map[string]*genai.Schema{
				"description":  {Type: genai.TypeString},
				"quantity":     {Type: genai.TypeNumber},
				"unit_price":   {Type: genai.TypeNumber},
				"account_code": {Type: genai.TypeString},
				"vat_rate":     {Type: genai.TypeString},
			}, "description"), nil
	}
	return "", nil, fmt.Errorf("%w: step %s takes no voice input", voice.ErrNoParse, step)
}

func objectSchema(props map[string]*genai.Schema, required ...string) *genai.Schema {
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   required,
	}
}
