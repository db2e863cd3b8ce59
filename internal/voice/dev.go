package voice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/davidahmann/voicebooks/internal/workflow"
	"github.com/davidahmann/voicebooks/pkg/types"
)

// DevTranscriber echoes the audio bytes back as text. It lets the rest of the
// stack run locally without a speech API key: callers post plain UTF-8 in the
// audio part and get it back as the transcript.
type DevTranscriber struct{}

func (DevTranscriber) Transcribe(_ context.Context, audio []byte) (string, error) {
	return strings.TrimSpace(string(audio)), nil
}

// DevExtractor parses transcripts with fixed rules instead of a model. It
// understands the comma-separated shapes the local test clients send.
type DevExtractor struct {
	Now func() time.Time
}

func (d DevExtractor) Extract(_ context.Context, step workflow.StepID, transcript string) (workflow.Result, error) {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return nil, ErrNoParse
	}
	switch step {
	case workflow.StepName:
		return workflow.NameResult{Name: text, IsOrganization: looksLikeOrg(text)}, nil
	case workflow.StepContactName:
		return workflow.ContactNameResult{ContactName: text, IsOrganization: looksLikeOrg(text)}, nil
	case workflow.StepEmail:
		parts := splitParts(text)
		res := workflow.EmailResult{Email: parts[0]}
		if len(parts) > 1 {
			res.Phone = parts[1]
		}
		return res, nil
	case workflow.StepAddress:
		parts := splitParts(text)
		res := workflow.AddressResult{Line1: parts[0]}
		if len(parts) > 1 {
			res.City = parts[1]
		}
		if len(parts) > 2 {
			res.Postcode = parts[2]
		}
		if len(parts) > 3 {
			res.Country = parts[3]
		}
		return res, nil
	case workflow.StepDueDate:
		now := time.Now
		if d.Now != nil {
			now = d.Now
		}
		if days, ok := relativeDays(text); ok {
			due := now().AddDate(0, 0, days).Format("2006-01-02")
			return workflow.DueDateResult{DueDate: due, DaysFromNow: days}, nil
		}
		return workflow.DueDateResult{DueDate: text}, nil
	case workflow.StepLineItem:
		parts := splitParts(text)
		item := types.LineItem{Description: parts[0], Quantity: 1}
		if len(parts) > 1 {
			if _, err := fmt.Sscanf(parts[1], "%g", &item.Quantity); err != nil {
				return nil, ErrNoParse
			}
		}
		if len(parts) > 2 {
			if _, err := fmt.Sscanf(parts[2], "%g", &item.UnitPrice); err != nil {
				return nil, ErrNoParse
			}
		}
		return workflow.LineItemResult{Item: item}, nil
	}
	return nil, fmt.Errorf("%w: step %s takes no voice input", ErrNoParse, step)
}

func splitParts(text string) []string {
	raw := strings.Split(text, ",")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		parts = append(parts, strings.TrimSpace(p))
	}
	return parts
}

func looksLikeOrg(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range []string{" ltd", " limited", " llc", " inc", " plc", " gmbh"} {
		if strings.HasSuffix(lower, marker) || strings.Contains(lower, marker+" ") {
			return true
		}
	}
	return false
}

func relativeDays(text string) (int, bool) {
	switch strings.ToLower(text) {
	case "today":
		return 0, true
	case "tomorrow":
		return 1, true
	case "next week", "in a week":
		return 7, true
	case "in two weeks", "in a fortnight":
		return 14, true
	case "in thirty days", "in 30 days":
		return 30, true
	}
	var days int
	if _, err := fmt.Sscanf(strings.ToLower(text), "in %d days", &days); err == nil && days >= 0 {
		return days, true
	}
	return 0, false
}
