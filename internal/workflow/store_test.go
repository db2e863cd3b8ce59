package workflow

import (
	"testing"
	"time"
)

// fakeClock lets tests move a store's notion of now.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(ContactCatalog(), DefaultTTL)
	store.now = clock.now
	return store, clock
}

func TestGetOrCreateMintsAndReturns(t *testing.T) {
	store, _ := newTestStore()

	sess, created := store.GetOrCreate("")
	if !created || sess.ID() == "" {
		t.Fatalf("expected fresh session with generated id")
	}
	if sess.CurrentStep() != StepWelcome {
		t.Fatalf("expected initial step welcome, got %s", sess.CurrentStep())
	}

	again, created := store.GetOrCreate(sess.ID())
	if created || again != sess {
		t.Fatalf("expected existing session returned")
	}
}

func TestGetOrCreateUnknownIDReusesIt(t *testing.T) {
	store, _ := newTestStore()

	sess, created := store.GetOrCreate("client-supplied-id")
	if !created || sess.ID() != "client-supplied-id" {
		t.Fatalf("expected fresh entity under supplied id, got %s created=%v", sess.ID(), created)
	}
}

func TestExpiredSessionReplacedUnderSameID(t *testing.T) {
	store, clock := newTestStore()

	sess, _ := store.GetOrCreate("abc")
	sess.MarkComplete(StepWelcome, "", nil)

	clock.advance(31 * time.Minute)

	fresh, created := store.GetOrCreate("abc")
	if !created {
		t.Fatalf("expected expired session replaced")
	}
	if fresh.ID() != "abc" {
		t.Fatalf("expected same id reused, got %s", fresh.ID())
	}
	if len(fresh.Snapshot().CompletedSteps) != 0 {
		t.Fatalf("expected empty fresh session")
	}
}

func TestLookupDoesNotRefreshAge(t *testing.T) {
	store, clock := newTestStore()

	sess, _ := store.GetOrCreate("abc")
	before := sess.UpdatedAt()

	clock.advance(20 * time.Minute)
	if _, created := store.GetOrCreate("abc"); created {
		t.Fatalf("session expired too early")
	}
	if !sess.UpdatedAt().Equal(before) {
		t.Fatalf("lookup refreshed updatedAt")
	}

	// 20 more minutes without mutation pushes it past the 30 minute deadline
	clock.advance(20 * time.Minute)
	if _, created := store.GetOrCreate("abc"); !created {
		t.Fatalf("expected expiry despite intermediate lookup")
	}
}

func TestReapRemovesOnlyExpired(t *testing.T) {
	store, clock := newTestStore()

	store.GetOrCreate("old")
	clock.advance(31 * time.Minute)
	store.GetOrCreate("new")

	if removed := store.Reap(); removed != 1 {
		t.Fatalf("expected 1 reaped, got %d", removed)
	}
	if _, ok := store.Get("old"); ok {
		t.Fatalf("expired session survived reap")
	}
	if _, ok := store.Get("new"); !ok {
		t.Fatalf("live session reaped")
	}
}

func TestResetMintsNewIdentity(t *testing.T) {
	store, _ := newTestStore()

	sess, _ := store.GetOrCreate("abc")
	sess.MarkComplete(StepWelcome, "", nil)

	fresh := store.Reset("abc")
	if fresh.ID() == "abc" || fresh.ID() == "" {
		t.Fatalf("expected new identity, got %s", fresh.ID())
	}
	if _, ok := store.Get("abc"); ok {
		t.Fatalf("old session still present after reset")
	}
}
