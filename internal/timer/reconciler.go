// Package timer owns the foreground timer state machine: which task is
// running, how much time it has accumulated, and how a detected call preempts
// and later restores the user's manual task. All transitions are serialized
// behind one mutex; the sampler loop, the websocket bridge and the command
// watcher all funnel through the same entry points.
package timer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/tempofy/internal/diaglog"
	"github.com/tiroq/tempofy/internal/store"
)

// Phase is the reconciler's lifecycle phase.
type Phase string

const (
	PhaseStopped Phase = "stopped"
	PhaseRunning Phase = "running"
	PhasePaused  Phase = "paused"
)

// Clock abstracts wall-clock time so tests can drive transitions
// deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }

// EntrySink receives completed time entries. Writes are fire-and-forget from
// the reconciler's perspective: a failed save is logged, never propagated.
type EntrySink interface {
	SaveEntry(entry store.TimeEntry) (store.TimeEntry, error)
}

// Notifier receives a state snapshot after every externally visible
// transition. Delivery is at-most-once per transition.
type Notifier interface {
	TimerStateChanged(snap Snapshot)
}

// Snapshot is a read-only copy of the reconciler state for UI consumers.
type Snapshot struct {
	Phase          Phase  `json:"phase"`
	Task           string `json:"task,omitempty"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	CallActive     bool   `json:"call_active"`
	SuspendedTask  string `json:"suspended_task,omitempty"`
}

// suspendedTask is the single-slot holding area for a manual task displaced
// by a call. Depth is deliberately 1: a second overlapping call flushes the
// first call-task instead of pushing another level.
type suspendedTask struct {
	name           string
	elapsedSeconds int
}

// Reconciler is the timer state machine.
type Reconciler struct {
	mu       sync.Mutex
	clock    Clock
	sink     EntrySink
	notifier Notifier
	diag     *diaglog.Logger

	phase         Phase
	task          string
	startRef      time.Time // Running: elapsed = now - startRef
	frozenElapsed int       // Paused: elapsed frozen here
	callActive    bool      // current task is the synthetic call-task
	suspended     *suspendedTask
}

// New creates a stopped reconciler writing entries to sink.
func New(clock Clock, sink EntrySink) *Reconciler {
	if clock == nil {
		clock = systemClock{}
	}
	return &Reconciler{
		clock: clock,
		sink:  sink,
		phase: PhaseStopped,
		diag:  diaglog.NewNoOp(),
	}
}

// SetNotifier installs the UI notifier. Must be called before the sampler
// loop starts.
func (r *Reconciler) SetNotifier(n Notifier) {
	r.mu.Lock()
	r.notifier = n
	r.mu.Unlock()
}

// SetLogger installs the structured diagnostic logger.
func (r *Reconciler) SetLogger(l *diaglog.Logger) {
	r.mu.Lock()
	if l == nil {
		l = diaglog.NewNoOp()
	}
	r.diag = l
	r.mu.Unlock()
}

// elapsedLocked returns the accumulated seconds for the active task.
func (r *Reconciler) elapsedLocked() int {
	switch r.phase {
	case PhaseRunning:
		return int(r.clock.Now().Sub(r.startRef).Seconds())
	case PhasePaused:
		return r.frozenElapsed
	default:
		return 0
	}
}

// snapshotLocked builds a Snapshot without taking the lock.
func (r *Reconciler) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:          r.phase,
		Task:           r.task,
		ElapsedSeconds: r.elapsedLocked(),
		CallActive:     r.callActive,
	}
	if r.suspended != nil {
		snap.SuspendedTask = r.suspended.name
	}
	return snap
}

// Snapshot returns the current state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// notify delivers snap to the notifier, outside the lock.
func (r *Reconciler) notify(snap Snapshot, n Notifier) {
	if n != nil {
		n.TimerStateChanged(snap)
	}
}

// flushEntryLocked writes one completed entry for the given task and
// duration. Save failures are absorbed: the external signal cannot be
// replayed, so losing the write must not take down the transition.
func (r *Reconciler) flushEntryLocked(task string, durationSeconds int) {
	if r.sink == nil {
		return
	}
	now := r.clock.Now()
	entry := store.TimeEntry{
		Task:      task,
		Date:      now.Format(time.RFC3339),
		Duration:  durationSeconds,
		CreatedAt: now,
	}
	if _, err := r.sink.SaveEntry(entry); err != nil {
		r.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentTimer,
			Event:     diaglog.EventEntrySaveFailed,
			Reason:    err.Error(),
			Payload:   map[string]interface{}{"task": task, "duration": durationSeconds},
		})
		return
	}
	r.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentTimer,
		Event:     diaglog.EventEntrySaved,
		Payload:   map[string]interface{}{"task": task, "duration": durationSeconds},
	})
}

// beginLocked puts the reconciler into Running on task with the given
// already-accumulated elapsed time.
func (r *Reconciler) beginLocked(task string, elapsedSeconds int, callTask bool) {
	r.task = task
	r.phase = PhaseRunning
	r.startRef = r.clock.Now().Add(-time.Duration(elapsedSeconds) * time.Second)
	r.frozenElapsed = 0
	r.callActive = callTask
}

// resetLocked returns the reconciler to Stopped. The suspension slot is left
// alone; callers decide its fate.
func (r *Reconciler) resetLocked() {
	r.phase = PhaseStopped
	r.task = ""
	r.startRef = time.Time{}
	r.frozenElapsed = 0
	r.callActive = false
}

// Start begins tracking taskName. Starting the task that is already running
// is a no-op; starting it while paused resumes it with its elapsed time
// intact. Starting a different task first flushes an entry for the old one.
// Starting a manual task while a call-task is active flushes both the
// call-task and any suspended task, so no accumulated time is dropped.
func (r *Reconciler) Start(taskName string) {
	r.mu.Lock()

	if r.phase == PhaseRunning && r.task == taskName && !r.callActive {
		r.mu.Unlock()
		return
	}

	if r.phase == PhasePaused && r.task == taskName && !r.callActive {
		// Same task resumed through the start surface.
		r.beginLocked(taskName, r.frozenElapsed, false)
		snap, n := r.snapshotLocked(), r.notifier
		r.mu.Unlock()
		r.notify(snap, n)
		return
	}

	if r.phase != PhaseStopped {
		r.flushEntryLocked(r.task, r.elapsedLocked())
	}
	if r.callActive && r.suspended != nil {
		// The user is overriding call tracking; the displaced manual task
		// will never be restored, so flush it rather than drop it.
		r.flushEntryLocked(r.suspended.name, r.suspended.elapsedSeconds)
		r.suspended = nil
	}

	r.beginLocked(taskName, 0, false)
	r.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentTimer,
		Event:     diaglog.EventTimerStart,
		Reason:    "manual",
		Payload:   map[string]interface{}{"task": taskName},
	})
	snap, n := r.snapshotLocked(), r.notifier
	r.mu.Unlock()
	r.notify(snap, n)
}

// Pause freezes the running timer. Only valid from Running; otherwise a
// no-op.
func (r *Reconciler) Pause() {
	r.mu.Lock()
	if r.phase != PhaseRunning {
		r.mu.Unlock()
		return
	}
	r.frozenElapsed = r.elapsedLocked()
	r.phase = PhasePaused
	r.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentTimer,
		Event:     diaglog.EventTimerPause,
		Payload:   map[string]interface{}{"task": r.task, "elapsed": r.frozenElapsed},
	})
	snap, n := r.snapshotLocked(), r.notifier
	r.mu.Unlock()
	r.notify(snap, n)
}

// Resume continues a paused timer from exactly where it was frozen. Only
// valid from Paused; otherwise a no-op.
func (r *Reconciler) Resume() {
	r.mu.Lock()
	if r.phase != PhasePaused {
		r.mu.Unlock()
		return
	}
	r.beginLocked(r.task, r.frozenElapsed, r.callActive)
	r.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentTimer,
		Event:     diaglog.EventTimerResume,
		Payload:   map[string]interface{}{"task": r.task},
	})
	snap, n := r.snapshotLocked(), r.notifier
	r.mu.Unlock()
	r.notify(snap, n)
}

// Stop flushes one entry for the active task and settles to Stopped. Valid
// from Running or Paused; a no-op from Stopped. A held suspension survives:
// if the user stops the call-task by hand, the later call-end still restores
// the task the call displaced.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.phase == PhaseStopped {
		r.mu.Unlock()
		return
	}
	task, elapsed := r.task, r.elapsedLocked()
	r.flushEntryLocked(task, elapsed)
	r.resetLocked()
	r.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentTimer,
		Event:     diaglog.EventTimerStop,
		Reason:    "manual",
		Payload:   map[string]interface{}{"task": task, "duration": elapsed},
	})
	snap, n := r.snapshotLocked(), r.notifier
	r.mu.Unlock()
	r.notify(snap, n)
}

// OnCallStarted installs the call-task named taskName. A running or paused
// manual task is captured into the suspension slot without flushing an entry
// (it is paused, not stopped). If a call-task is already active — a second
// call detected before the first was flushed — the first call-task's entry
// is flushed and the new one takes its place; the existing suspension is
// kept so the original manual task still comes back at the end.
func (r *Reconciler) OnCallStarted(taskName string) {
	r.mu.Lock()

	if r.callActive {
		r.flushEntryLocked(r.task, r.elapsedLocked())
	} else if r.phase != PhaseStopped {
		r.suspended = &suspendedTask{name: r.task, elapsedSeconds: r.elapsedLocked()}
		r.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentTimer,
			Event:     diaglog.EventTaskSuspended,
			Payload:   map[string]interface{}{"task": r.suspended.name, "elapsed": r.suspended.elapsedSeconds},
		})
	}

	r.beginLocked(taskName, 0, true)
	r.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentTimer,
		Event:     diaglog.EventTimerStart,
		Reason:    "call",
		Payload:   map[string]interface{}{"task": taskName},
	})
	snap, n := r.snapshotLocked(), r.notifier
	r.mu.Unlock()
	r.notify(snap, n)
}

// OnCallUpdated renames the active call-task in place, with no effect on
// elapsed time. A no-op when no call-task is active or the name is
// unchanged.
func (r *Reconciler) OnCallUpdated(taskName string) {
	r.mu.Lock()
	if !r.callActive || r.task == taskName {
		r.mu.Unlock()
		return
	}
	r.task = taskName
	snap, n := r.snapshotLocked(), r.notifier
	r.mu.Unlock()
	r.notify(snap, n)
}

// OnCallEnded flushes the call-task's entry and restores the suspended
// manual task with its pre-call elapsed time, excluding the call duration
// entirely. When no call-task is active (the user already stopped it or
// replaced it) the transition degrades safely: a suspension held while the
// timer is stopped is restored, a suspension held while another task runs is
// flushed as an entry, and otherwise nothing happens. The external signal is
// racy relative to user actions, so none of these paths may fail.
func (r *Reconciler) OnCallEnded() {
	r.mu.Lock()

	if r.callActive {
		task, elapsed := r.task, r.elapsedLocked()
		r.flushEntryLocked(task, elapsed)
		r.resetLocked()
		r.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentTimer,
			Event:     diaglog.EventTimerStop,
			Reason:    "call_ended",
			Payload:   map[string]interface{}{"task": task, "duration": elapsed},
		})
	}

	switch {
	case r.suspended != nil && r.phase == PhaseStopped:
		s := r.suspended
		r.suspended = nil
		r.beginLocked(s.name, s.elapsedSeconds, false)
		r.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentTimer,
			Event:     diaglog.EventTaskRestored,
			Payload:   map[string]interface{}{"task": s.name, "elapsed": s.elapsedSeconds},
		})
	case r.suspended != nil:
		// The user started something else while the call ran; the displaced
		// task cannot be restored without clobbering, so flush it instead.
		r.flushEntryLocked(r.suspended.name, r.suspended.elapsedSeconds)
		r.suspended = nil
	}

	snap, n := r.snapshotLocked(), r.notifier
	r.mu.Unlock()
	r.notify(snap, n)
}

// FormatCallTaskName builds the synthetic task name for a tracked call:
// "Teams: <title>", suffixed with the participant names when three or fewer
// are known, their count when more, and nothing when unknown.
func FormatCallTaskName(title string, participants []string) string {
	name := "Teams: " + title
	switch {
	case len(participants) == 0:
		return name
	case len(participants) <= 3:
		return fmt.Sprintf("%s (%s)", name, strings.Join(participants, ", "))
	default:
		return fmt.Sprintf("%s (%d people)", name, len(participants))
	}
}
