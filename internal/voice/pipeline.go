package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidahmann/voicebooks/internal/workflow"
)

// MaxAudioBytes caps a single voice submission. Oversized payloads are
// rejected before the transcription collaborator is invoked.
const MaxAudioBytes = 10 << 20

// ErrNoParse is returned by extractors that could not produce a structured
// result from the transcript.
var ErrNoParse = errors.New("no parseable result")

// Transcriber converts raw audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Extractor converts a transcript into the step's typed result.
type Extractor interface {
	Extract(ctx context.Context, step workflow.StepID, transcript string) (workflow.Result, error)
}

// ValidationError is a field-scoped rejection. Transcript carries the raw
// text as salvage context so the caller can re-prompt precisely.
type ValidationError struct {
	Field      string
	Message    string
	Transcript string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Pipeline runs transcription, structured extraction, and deterministic
// sanitization for one voice step. It is a single-attempt chain: callers who
// want retry resubmit the same step, which is idempotent with respect to the
// session's completed-steps list.
type Pipeline struct {
	Transcriber Transcriber
	Extractor   Extractor
}

// Process turns audio bytes into a transcript plus sanitized fields.
// Collaborator failures come back wrapped; sanitizer and extraction failures
// come back as *ValidationError naming the offending field.
func (p *Pipeline) Process(ctx context.Context, step workflow.StepID, audio []byte) (string, workflow.Result, error) {
	if len(audio) == 0 {
		return "", nil, &ValidationError{Field: "audio", Message: "no audio received"}
	}
	if len(audio) > MaxAudioBytes {
		return "", nil, &ValidationError{Field: "audio", Message: "audio exceeds the 10 MiB limit"}
	}

	transcript, err := p.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return "", nil, fmt.Errorf("transcribe: %w", err)
	}

	res, err := p.Extractor.Extract(ctx, step, transcript)
	if err != nil {
		if errors.Is(err, ErrNoParse) {
			return transcript, nil, &ValidationError{
				Field:      primaryField(step),
				Message:    "could not understand the input, please try again",
				Transcript: transcript,
			}
		}
		return transcript, nil, fmt.Errorf("extract: %w", err)
	}
	if res == nil {
		return transcript, nil, &ValidationError{
			Field:      primaryField(step),
			Message:    "could not understand the input, please try again",
			Transcript: transcript,
		}
	}

	clean, err := Sanitize(res)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Transcript = transcript
			return transcript, nil, verr
		}
		return transcript, nil, err
	}

	return transcript, clean, nil
}

func primaryField(step workflow.StepID) string {
	switch step {
	case workflow.StepName:
		return "name"
	case workflow.StepEmail:
		return "email"
	case workflow.StepAddress:
		return "address"
	case workflow.StepContactName:
		return "contact_name"
	case workflow.StepDueDate:
		return "due_date"
	case workflow.StepLineItem:
		return "description"
	}
	return string(step)
}
