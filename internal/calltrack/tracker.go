// Package calltrack turns a stream of foreground-window samples into a clean
// call lifecycle: exactly one CallStarted, zero or more CallUpdated, exactly
// one CallEnded per detected call. Raw samples are noisy (focus flicker,
// transient titles), so both edges are debounced by consecutive-observation
// streaks before an event fires.
package calltrack

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiroq/tempofy/internal/classifier"
	"github.com/tiroq/tempofy/internal/diaglog"
	"github.com/tiroq/tempofy/internal/window"
)

// CallInfo describes an in-progress call.
type CallInfo struct {
	SessionID      string    `json:"session_id"`
	Title          string    `json:"title"`
	Participants   []string  `json:"participants,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	RawWindowTitle string    `json:"raw_window_title"`
}

// CallRecord is a finished call.
type CallRecord struct {
	CallInfo
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int       `json:"duration_seconds"`
}

// Events receives the debounced call lifecycle. Callbacks are invoked outside
// the tracker's lock, on the goroutine that triggered the transition.
type Events interface {
	CallStarted(info CallInfo)
	CallUpdated(info CallInfo)
	CallEnded(rec CallRecord)
}

// Enrichment is calendar-sourced metadata for a detected call.
type Enrichment struct {
	Subject      string
	Participants []string
}

// Enricher looks up calendar metadata for a call that started at startedAt.
// A nil result with nil error means no matching meeting was found.
type Enricher interface {
	EnrichCall(ctx context.Context, startedAt time.Time) (*Enrichment, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options configures a Tracker.
type Options struct {
	// AppHints are case-insensitive substrings matched against the window
	// owner's application name. Empty means any owner qualifies.
	AppHints []string
	// StartConfirmations is the number of consecutive call-positive samples
	// required before CallStarted fires. Minimum 1.
	StartConfirmations int
	// StopConfirmations is the number of consecutive call-negative samples
	// required before CallEnded fires. Minimum 1.
	StopConfirmations int
	Events            Events
	Enricher          Enricher
	Clock             Clock
	EnrichTimeout     time.Duration
}

type state int

const (
	stateIdle state = iota
	stateInCall
)

// Tracker is the debounced call-state machine. Tick is expected to be called
// from a single sampler goroutine; the enrichment goroutine re-enters through
// applyEnrichment, so all state lives behind one mutex.
type Tracker struct {
	mu sync.Mutex

	appHints      []string
	startConfirm  int
	stopConfirm   int
	events        Events
	enricher      Enricher
	clock         Clock
	enrichTimeout time.Duration
	diag          *diaglog.Logger

	state       state
	startStreak int
	stopStreak  int
	current     *CallInfo
	enriched    bool
	lostLogged  bool
}

// New builds a Tracker from opts, applying floors to the confirmation counts.
func New(opts Options) *Tracker {
	if opts.StartConfirmations < 1 {
		opts.StartConfirmations = 1
	}
	if opts.StopConfirmations < 1 {
		opts.StopConfirmations = 1
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = 10 * time.Second
	}
	return &Tracker{
		appHints:      opts.AppHints,
		startConfirm:  opts.StartConfirmations,
		stopConfirm:   opts.StopConfirmations,
		events:        opts.Events,
		enricher:      opts.Enricher,
		clock:         opts.Clock,
		enrichTimeout: opts.EnrichTimeout,
		diag:          diaglog.NewNoOp(),
	}
}

// SetLogger installs the structured diagnostic logger.
func (t *Tracker) SetLogger(l *diaglog.Logger) {
	t.mu.Lock()
	if l == nil {
		l = diaglog.NewNoOp()
	}
	t.diag = l
	t.mu.Unlock()
}

// Current returns a copy of the in-progress call, or nil when idle.
func (t *Tracker) Current() *CallInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	cp := *t.current
	cp.Participants = append([]string(nil), t.current.Participants...)
	return &cp
}

// InCall reports whether a call is currently confirmed.
func (t *Tracker) InCall() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateInCall
}

// ownerMatches reports whether the sample's owning application looks like a
// conferencing app per the configured hints.
func (t *Tracker) ownerMatches(owner string) bool {
	if len(t.appHints) == 0 {
		return true
	}
	lower := strings.ToLower(owner)
	for _, hint := range t.appHints {
		if strings.Contains(lower, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}

// Tick feeds one sampler observation into the state machine. A nil sample
// (no window, permission failure) is a call-negative observation. While a
// call is confirmed, a sample owned by a different application is neutral:
// Teams keeps the call alive in the background, so focus moving elsewhere is
// not call-end evidence. Event callbacks fire after the internal state has
// settled, outside the lock.
func (t *Tracker) Tick(sample *window.Sample) {
	t.mu.Lock()

	callPositive := sample != nil && t.ownerMatches(sample.OwnerName) && classifier.Classify(sample.Title)

	var fire func()
	switch t.state {
	case stateIdle:
		fire = t.tickIdleLocked(sample, callPositive)
	case stateInCall:
		fire = t.tickInCallLocked(sample, callPositive)
	}

	t.mu.Unlock()
	if fire != nil {
		fire()
	}
}

func (t *Tracker) tickIdleLocked(sample *window.Sample, callPositive bool) func() {
	if !callPositive {
		t.startStreak = 0
		return nil
	}
	t.startStreak++
	if t.startStreak < t.startConfirm {
		return nil
	}

	info := CallInfo{
		SessionID:      uuid.NewString(),
		Title:          classifier.ExtractMeetingName(sample.Title),
		StartedAt:      t.clock.Now(),
		RawWindowTitle: sample.Title,
	}
	t.state = stateInCall
	t.startStreak = 0
	t.stopStreak = 0
	t.enriched = false
	t.lostLogged = false
	t.current = &info

	t.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCallTracker,
		Event:     diaglog.EventCallStarted,
		SessionID: info.SessionID,
		Reason:    classifier.MatchedRule(sample.Title),
		Payload:   map[string]interface{}{"title": info.Title, "raw_title": info.RawWindowTitle},
	})

	events, enricher := t.events, t.enricher
	return func() {
		if events != nil {
			events.CallStarted(info)
		}
		if enricher != nil {
			go t.enrich(info.SessionID, info.StartedAt)
		}
	}
}

func (t *Tracker) tickInCallLocked(sample *window.Sample, callPositive bool) func() {
	if callPositive {
		t.stopStreak = 0
		t.lostLogged = false
		return t.maybeRenameLocked(sample)
	}

	// Another application holding focus says nothing about the call; the
	// Teams window may simply be minimized. Only a lost sample or a Teams
	// window without call markers counts toward the stop streak.
	if sample != nil && !t.ownerMatches(sample.OwnerName) {
		return nil
	}

	if sample == nil && !t.lostLogged {
		t.lostLogged = true
		t.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentCallTracker,
			Event:     diaglog.EventSignalLost,
			SessionID: t.current.SessionID,
		})
	}

	t.stopStreak++
	if t.stopStreak < t.stopConfirm {
		return nil
	}

	now := t.clock.Now()
	rec := CallRecord{
		CallInfo:        *t.current,
		EndedAt:         now,
		DurationSeconds: int(now.Sub(t.current.StartedAt).Seconds()),
	}
	t.state = stateIdle
	t.current = nil
	t.startStreak = 0
	t.stopStreak = 0
	t.enriched = false

	t.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCallTracker,
		Event:     diaglog.EventCallEnded,
		SessionID: rec.SessionID,
		Payload:   map[string]interface{}{"title": rec.Title, "duration": rec.DurationSeconds},
	})

	events := t.events
	return func() {
		if events != nil {
			events.CallEnded(rec)
		}
	}
}

// maybeRenameLocked propagates a changed window-derived meeting name. Once a
// calendar enrichment has been applied it owns the title; window flicker must
// not overwrite the authoritative subject.
func (t *Tracker) maybeRenameLocked(sample *window.Sample) func() {
	if t.enriched {
		return nil
	}
	name := classifier.ExtractMeetingName(sample.Title)
	if name == t.current.Title || name == classifier.DefaultMeetingName {
		return nil
	}
	t.current.Title = name
	t.current.RawWindowTitle = sample.Title

	t.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCallTracker,
		Event:     diaglog.EventCallUpdated,
		SessionID: t.current.SessionID,
		Reason:    "window_title",
		Payload:   map[string]interface{}{"title": name},
	})

	events, cp := t.events, *t.current
	return func() {
		if events != nil {
			events.CallUpdated(cp)
		}
	}
}

// enrich runs the calendar lookup off the sampler goroutine and applies the
// result if the session is still the current one.
func (t *Tracker) enrich(sessionID string, startedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), t.enrichTimeout)
	defer cancel()

	result, err := t.enricher.EnrichCall(ctx, startedAt)
	if err != nil {
		t.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentCallTracker,
			Event:     diaglog.EventEnrichFailed,
			SessionID: sessionID,
			Reason:    err.Error(),
		})
		return
	}
	if result == nil {
		return
	}
	t.applyEnrichment(sessionID, *result)
}

// applyEnrichment installs calendar metadata on the current call. Stale
// results (the call ended, or a newer call replaced it, before the lookup
// returned) are discarded.
func (t *Tracker) applyEnrichment(sessionID string, e Enrichment) {
	t.mu.Lock()

	if t.current == nil || t.current.SessionID != sessionID {
		t.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentCallTracker,
			Event:     diaglog.EventEnrichDiscarded,
			SessionID: sessionID,
			Reason:    "session_stale",
		})
		t.mu.Unlock()
		return
	}

	if e.Subject != "" {
		t.current.Title = e.Subject
	}
	t.current.Participants = append([]string(nil), e.Participants...)
	t.enriched = true

	t.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCallTracker,
		Event:     diaglog.EventEnrichApplied,
		SessionID: sessionID,
		Payload:   map[string]interface{}{"subject": e.Subject, "participants": len(e.Participants)},
	})

	events := t.events
	var cp CallInfo
	if events != nil {
		cp = *t.current
	}
	t.mu.Unlock()
	if events != nil {
		events.CallUpdated(cp)
	}
}
