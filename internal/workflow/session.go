package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/voicebooks/pkg/types"
)

// Session is the in-memory record of one in-progress draft. Each session
// carries its own mutex; concurrent submissions for the same id serialize on
// the entity instead of racing on a shared map.
type Session struct {
	mu      sync.Mutex
	catalog *Catalog
	now     func() time.Time

	id             string
	currentStep    StepID
	completedSteps []StepID
	draft          types.Draft
	pendingItem    *types.LineItem
	transcripts    map[StepID]string
	parsedResults  map[StepID]Result
	stepErrors     map[StepID]string
	createdAt      time.Time
	updatedAt      time.Time
}

// NewSession mints a session at the catalog's initial step. An empty id gets
// a fresh UUID.
func NewSession(c *Catalog, id string) *Session {
	return newSessionAt(c, id, time.Now)
}

func newSessionAt(c *Catalog, id string, now func() time.Time) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	t := now()
	return &Session{
		catalog:       c,
		now:           now,
		id:            id,
		currentStep:   c.Initial(),
		transcripts:   make(map[StepID]string),
		parsedResults: make(map[StepID]Result),
		stepErrors:    make(map[StepID]string),
		createdAt:     t,
		updatedAt:     t,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Kind() types.WorkflowKind {
	return s.catalog.Kind
}

func (s *Session) CurrentStep() StepID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentStep
}

// UpdatedAt reports the last mutation time. Reads do not refresh it; only
// mutations do, so idle sessions age out even while being polled.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// HasPendingItem reports whether a parsed line item awaits its
// add-another / proceed decision.
func (s *Session) HasPendingItem() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingItem != nil
}

// Transcript returns the stored raw transcript for a step.
func (s *Session) Transcript(step StepID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcripts[step]
}

// ParsedResult returns the stored structured result for a step.
func (s *Session) ParsedResult(step StepID) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.parsedResults[step]
	return r, ok
}

func (s *Session) touch() {
	s.updatedAt = s.now()
}

func (s *Session) isCompleted(step StepID) bool {
	for _, c := range s.completedSteps {
		if c == step {
			return true
		}
	}
	return false
}

func (s *Session) progress() float64 {
	if len(s.catalog.Steps) == 0 {
		return 0
	}
	return float64(len(s.completedSteps)) / float64(len(s.catalog.Steps)) * 100
}

// Snapshot serializes the session to its external form.
func (s *Session) Snapshot() types.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := make([]string, len(s.completedSteps))
	for i, c := range s.completedSteps {
		completed[i] = string(c)
	}

	transcripts := make(map[string]string, len(s.transcripts))
	for k, v := range s.transcripts {
		transcripts[string(k)] = v
	}
	stepErrors := make(map[string]string, len(s.stepErrors))
	for k, v := range s.stepErrors {
		stepErrors[string(k)] = v
	}

	var pending *types.LineItem
	if s.pendingItem != nil {
		p := *s.pendingItem
		pending = &p
	}

	draft := s.draft
	draft.LineItems = append([]types.LineItem(nil), s.draft.LineItems...)
	if s.draft.Address != nil {
		addr := *s.draft.Address
		draft.Address = &addr
	}

	return types.SessionSnapshot{
		SessionID:      s.id,
		WorkflowKind:   s.catalog.Kind,
		CurrentStep:    string(s.currentStep),
		CompletedSteps: completed,
		Draft:          draft,
		PendingItem:    pending,
		Transcripts:    transcripts,
		StepErrors:     stepErrors,
		Progress:       s.progress(),
		CreatedAt:      s.createdAt,
		UpdatedAt:      s.updatedAt,
	}
}

// RestoreSession rebuilds a session from its external snapshot. Parsed result
// objects are not part of the snapshot; the draft already carries their
// merged values.
func RestoreSession(c *Catalog, snap types.SessionSnapshot) (*Session, error) {
	if snap.WorkflowKind != c.Kind {
		return nil, ErrKindMismatch
	}
	if !c.Contains(StepID(snap.CurrentStep)) {
		return nil, ErrInvalidStep
	}

	s := NewSession(c, snap.SessionID)
	s.currentStep = StepID(snap.CurrentStep)
	for _, step := range snap.CompletedSteps {
		id := StepID(step)
		if !c.Contains(id) {
			return nil, ErrInvalidStep
		}
		if !s.isCompleted(id) {
			s.completedSteps = append(s.completedSteps, id)
		}
	}
	s.draft = snap.Draft
	if snap.PendingItem != nil {
		p := *snap.PendingItem
		s.pendingItem = &p
	}
	for k, v := range snap.Transcripts {
		s.transcripts[StepID(k)] = v
	}
	for k, v := range snap.StepErrors {
		s.stepErrors[StepID(k)] = v
	}
	if !snap.CreatedAt.IsZero() {
		s.createdAt = snap.CreatedAt
	}
	if !snap.UpdatedAt.IsZero() {
		s.updatedAt = snap.UpdatedAt
	}
	return s, nil
}
