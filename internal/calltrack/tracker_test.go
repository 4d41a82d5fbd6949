package calltrack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tiroq/tempofy/internal/window"
)

// ── Test doubles ─────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedEvent struct {
	kind string // "started", "updated", "ended"
	info CallInfo
	rec  CallRecord
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) CallStarted(info CallInfo) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{kind: "started", info: info})
	r.mu.Unlock()
}

func (r *eventRecorder) CallUpdated(info CallInfo) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{kind: "updated", info: info})
	r.mu.Unlock()
}

func (r *eventRecorder) CallEnded(rec CallRecord) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{kind: "ended", rec: rec})
	r.mu.Unlock()
}

func (r *eventRecorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func (r *eventRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

func teamsSample(title string) *window.Sample {
	return &window.Sample{Title: title, OwnerName: "Microsoft Teams", ObservedAt: time.Now()}
}

func newTestTracker(opts Options) (*Tracker, *eventRecorder, *fakeClock) {
	rec := &eventRecorder{}
	clock := newFakeClock()
	opts.Events = rec
	opts.Clock = clock
	if len(opts.AppHints) == 0 {
		opts.AppHints = []string{"Microsoft Teams", "MSTeams", "Teams"}
	}
	return New(opts), rec, clock
}

func equalKinds(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func TestCallStartedOnceAndEndedOnce(t *testing.T) {
	tr, rec, clock := newTestTracker(Options{})

	tr.Tick(teamsSample("Meeting with Alex Kim | Contoso | Microsoft Teams"))
	clock.Advance(3 * time.Second)
	tr.Tick(teamsSample("Meeting with Alex Kim | Contoso | Microsoft Teams"))
	clock.Advance(3 * time.Second)
	tr.Tick(teamsSample("Chat | Microsoft Teams"))
	tr.Tick(teamsSample("Chat | Microsoft Teams"))

	if got := rec.kinds(); !equalKinds(got, []string{"started", "ended"}) {
		t.Fatalf("events = %v, want [started ended]", got)
	}
	events := rec.all()
	if events[0].info.Title != "Meeting with Alex Kim" {
		t.Errorf("started title = %q", events[0].info.Title)
	}
	if events[0].info.SessionID == "" {
		t.Error("session id must be assigned")
	}
	if events[1].rec.DurationSeconds != 6 {
		t.Errorf("ended duration = %d, want 6", events[1].rec.DurationSeconds)
	}
}

func TestStartConfirmationsDebounceFlicker(t *testing.T) {
	tr, rec, _ := newTestTracker(Options{StartConfirmations: 3})

	// Two positives then a negative: streak must reset, no event.
	tr.Tick(teamsSample("Meeting with Alex | Teams"))
	tr.Tick(teamsSample("Meeting with Alex | Teams"))
	tr.Tick(teamsSample("Chat | Microsoft Teams"))
	if len(rec.all()) != 0 {
		t.Fatalf("flicker below the threshold must not emit: %v", rec.kinds())
	}

	// Three consecutive positives confirm the call.
	tr.Tick(teamsSample("Meeting with Alex | Teams"))
	tr.Tick(teamsSample("Meeting with Alex | Teams"))
	if len(rec.all()) != 0 {
		t.Fatalf("premature start: %v", rec.kinds())
	}
	tr.Tick(teamsSample("Meeting with Alex | Teams"))
	if got := rec.kinds(); !equalKinds(got, []string{"started"}) {
		t.Fatalf("events = %v, want [started]", got)
	}
}

func TestStopConfirmationsSurviveBriefFocusLoss(t *testing.T) {
	tr, rec, _ := newTestTracker(Options{StopConfirmations: 3})

	tr.Tick(teamsSample("Weekly Sync 00:12:45 | Microsoft Teams"))
	tr.Tick(teamsSample("Slack - #general")) // alt-tab away
	tr.Tick(teamsSample("Slack - #general"))
	tr.Tick(teamsSample("Weekly Sync 00:13:02 | Microsoft Teams")) // back to the call

	if got := rec.kinds(); !equalKinds(got, []string{"started"}) {
		t.Fatalf("events = %v, brief focus loss below threshold must not end the call", got)
	}
	if !tr.InCall() {
		t.Error("tracker should still be in-call")
	}

	tr.Tick(teamsSample("Slack - #general"))
	tr.Tick(teamsSample("Slack - #general"))
	tr.Tick(teamsSample("Slack - #general"))
	if got := rec.kinds(); !equalKinds(got, []string{"started", "ended"}) {
		t.Fatalf("events = %v, want [started ended]", got)
	}
}

func TestNilSampleCountsTowardCallEnd(t *testing.T) {
	tr, rec, _ := newTestTracker(Options{})

	tr.Tick(teamsSample("Call with Sam | Microsoft Teams"))
	tr.Tick(nil) // sampler failure / no foreground window

	if got := rec.kinds(); !equalKinds(got, []string{"started", "ended"}) {
		t.Fatalf("events = %v, want [started ended]", got)
	}
}

func TestFocusOnOtherAppKeepsCallAlive(t *testing.T) {
	tr, rec, _ := newTestTracker(Options{})

	tr.Tick(teamsSample("Meeting with Alex Kim | Microsoft Teams"))
	tr.Tick(&window.Sample{Title: "notes.md - Obsidian", OwnerName: "Obsidian"})
	tr.Tick(&window.Sample{Title: "inbox - Mail", OwnerName: "Mail"})
	tr.Tick(teamsSample("Meeting with Alex Kim | Microsoft Teams"))

	if got := rec.kinds(); !equalKinds(got, []string{"started"}) {
		t.Fatalf("events = %v, working in another app mid-call must not end it", got)
	}
	if !tr.InCall() {
		t.Error("tracker should still be in-call")
	}
}

func TestOtherAppFocusDoesNotResetStopStreak(t *testing.T) {
	tr, rec, _ := newTestTracker(Options{StopConfirmations: 2})

	tr.Tick(teamsSample("Meeting with Alex | Teams"))
	tr.Tick(teamsSample("Chat | Microsoft Teams")) // first stop observation
	tr.Tick(&window.Sample{Title: "inbox - Mail", OwnerName: "Mail"})
	tr.Tick(teamsSample("Chat | Microsoft Teams")) // second stop observation

	if got := rec.kinds(); !equalKinds(got, []string{"started", "ended"}) {
		t.Fatalf("events = %v, a neutral sample must neither end the call nor reset the stop streak", got)
	}
}

func TestOwnerHintGatesClassification(t *testing.T) {
	tr, rec, _ := newTestTracker(Options{})

	// A non-conferencing app whose title happens to contain a timer.
	tr.Tick(&window.Sample{Title: "build 00:12:45 remaining", OwnerName: "Terminal"})
	tr.Tick(&window.Sample{Title: "build 00:12:46 remaining", OwnerName: "Terminal"})

	if len(rec.all()) != 0 {
		t.Fatalf("owner mismatch must never start a call: %v", rec.kinds())
	}
}

func TestExcludedViewsNeverStartCall(t *testing.T) {
	tr, rec, _ := newTestTracker(Options{})

	for _, title := range []string{
		"Calendar | Microsoft Teams",
		"Chat | Microsoft Teams",
		"Activity | Microsoft Teams",
		"Calls | Microsoft Teams",
	} {
		tr.Tick(teamsSample(title))
	}
	if len(rec.all()) != 0 {
		t.Fatalf("excluded views emitted events: %v", rec.kinds())
	}
}

// ── Mid-call title updates ───────────────────────────────────────────────────

func TestWindowTitleChangeEmitsSingleUpdate(t *testing.T) {
	tr, rec, _ := newTestTracker(Options{})

	tr.Tick(teamsSample("Meeting with Alex Kim | Microsoft Teams"))
	tr.Tick(teamsSample("Roadmap Review | Meeting stage | Microsoft Teams"))
	tr.Tick(teamsSample("Roadmap Review | Meeting stage | Microsoft Teams")) // same name, no second update

	if got := rec.kinds(); !equalKinds(got, []string{"started", "updated"}) {
		t.Fatalf("events = %v, want [started updated]", got)
	}
	if got := rec.all()[1].info.Title; got != "Roadmap Review" {
		t.Errorf("updated title = %q", got)
	}
}

func TestDefaultNameNeverOverwritesRealName(t *testing.T) {
	tr, rec, _ := newTestTracker(Options{})

	tr.Tick(teamsSample("Meeting with Alex Kim | Microsoft Teams"))
	// A bare timer title reduces to the default meeting name.
	tr.Tick(teamsSample("00:01:12 | Microsoft Teams"))

	if got := rec.kinds(); !equalKinds(got, []string{"started"}) {
		t.Fatalf("events = %v, default-name flicker must not rename", got)
	}
	if got := tr.Current().Title; got != "Meeting with Alex Kim" {
		t.Errorf("title = %q", got)
	}
}

// ── Enrichment ───────────────────────────────────────────────────────────────

type stubEnricher struct {
	mu      sync.Mutex
	result  *Enrichment
	err     error
	release chan struct{} // when non-nil, EnrichCall blocks until closed
	calls   int
}

func (s *stubEnricher) EnrichCall(ctx context.Context, startedAt time.Time) (*Enrichment, error) {
	s.mu.Lock()
	s.calls++
	release := s.release
	result, err := s.result, s.err
	s.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result, err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestEnrichmentAppliesSubjectAndParticipants(t *testing.T) {
	enr := &stubEnricher{result: &Enrichment{
		Subject:      "Q3 Planning",
		Participants: []string{"Alex Kim", "Sam Lee"},
	}}
	tr, rec, _ := newTestTracker(Options{Enricher: enr})

	tr.Tick(teamsSample("Meeting with Alex Kim | Microsoft Teams"))

	waitFor(t, func() bool {
		for _, e := range rec.all() {
			if e.kind == "updated" {
				return true
			}
		}
		return false
	})

	cur := tr.Current()
	if cur.Title != "Q3 Planning" {
		t.Errorf("title = %q, want calendar subject", cur.Title)
	}
	if len(cur.Participants) != 2 {
		t.Errorf("participants = %v", cur.Participants)
	}
}

func TestEnrichmentLockedAgainstWindowRename(t *testing.T) {
	enr := &stubEnricher{result: &Enrichment{Subject: "Q3 Planning"}}
	tr, _, _ := newTestTracker(Options{Enricher: enr})

	tr.Tick(teamsSample("Meeting with Alex Kim | Microsoft Teams"))
	waitFor(t, func() bool { return tr.Current().Title == "Q3 Planning" })

	// Window title changes after enrichment; the calendar subject wins.
	tr.Tick(teamsSample("Meeting with Someone Else | Microsoft Teams"))
	if got := tr.Current().Title; got != "Q3 Planning" {
		t.Errorf("title = %q, enriched subject must not be overwritten", got)
	}
}

func TestStaleEnrichmentDiscarded(t *testing.T) {
	enr := &stubEnricher{
		result:  &Enrichment{Subject: "Old Meeting"},
		release: make(chan struct{}),
	}
	tr, rec, _ := newTestTracker(Options{Enricher: enr})

	tr.Tick(teamsSample("Meeting with Alex Kim | Microsoft Teams"))
	waitFor(t, func() bool {
		enr.mu.Lock()
		defer enr.mu.Unlock()
		return enr.calls >= 1
	})
	tr.Tick(teamsSample("Chat | Microsoft Teams")) // call ends before enrichment returns

	// The second call's own lookup finds nothing; only the stale in-flight
	// result carries a subject.
	enr.mu.Lock()
	enr.result = nil
	enr.mu.Unlock()

	tr.Tick(teamsSample("Meeting with Sam Lee | Microsoft Teams")) // a new call
	close(enr.release)

	waitFor(t, func() bool {
		enr.mu.Lock()
		defer enr.mu.Unlock()
		return enr.calls >= 2
	})
	time.Sleep(20 * time.Millisecond) // let any stale apply land

	if got := tr.Current().Title; got == "Old Meeting" {
		t.Error("stale enrichment applied to the wrong session")
	}
	for _, e := range rec.all() {
		if e.kind == "updated" && e.info.Title == "Old Meeting" {
			t.Error("stale enrichment emitted an update")
		}
	}
}

func TestEnrichmentErrorLeavesCallIntact(t *testing.T) {
	enr := &stubEnricher{err: errors.New("graph unreachable")}
	tr, _, _ := newTestTracker(Options{Enricher: enr})

	tr.Tick(teamsSample("Meeting with Alex Kim | Microsoft Teams"))
	waitFor(t, func() bool {
		enr.mu.Lock()
		defer enr.mu.Unlock()
		return enr.calls >= 1
	})
	time.Sleep(20 * time.Millisecond)

	cur := tr.Current()
	if cur == nil || cur.Title != "Meeting with Alex Kim" {
		t.Errorf("call state disturbed by enrichment failure: %+v", cur)
	}
}

// ── Session identity ─────────────────────────────────────────────────────────

func TestConsecutiveCallsGetDistinctSessions(t *testing.T) {
	tr, rec, _ := newTestTracker(Options{})

	tr.Tick(teamsSample("Meeting with Alex | Teams"))
	tr.Tick(teamsSample("Chat | Microsoft Teams"))
	tr.Tick(teamsSample("Meeting with Sam | Teams"))
	tr.Tick(teamsSample("Chat | Microsoft Teams"))

	var sessions []string
	for _, e := range rec.all() {
		if e.kind == "started" {
			sessions = append(sessions, e.info.SessionID)
		}
	}
	if len(sessions) != 2 {
		t.Fatalf("started events = %d, want 2", len(sessions))
	}
	if sessions[0] == sessions[1] {
		t.Error("consecutive calls must not share a session id")
	}
	if !equalKinds(rec.kinds(), []string{"started", "ended", "started", "ended"}) {
		t.Errorf("event order = %v", rec.kinds())
	}
}
