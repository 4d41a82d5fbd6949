package main

import (
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/tiroq/tempofy/internal/calltrack"
	"github.com/tiroq/tempofy/internal/config"
	"github.com/tiroq/tempofy/internal/diaglog"
	"github.com/tiroq/tempofy/internal/ipc"
	"github.com/tiroq/tempofy/internal/store"
	"github.com/tiroq/tempofy/internal/timer"
	"github.com/tiroq/tempofy/internal/wsbridge"
	"github.com/tiroq/tempofy/testutil"
)

func newTestCore(t *testing.T) *core {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	outLog = log.New(io.Discard, "", 0)
	errLog = log.New(io.Discard, "", 0)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	testutil.AssertNoError(t, err, "open store")
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		AppHints:           []string{"Teams"},
		PollInterval:       3,
		StartConfirmations: 1,
		StopConfirmations:  1,
		AutoTrackCalls:     true,
	}

	app := &core{
		cfg:  cfg,
		st:   st,
		diag: diaglog.NewNoOp(),
		quit: make(chan struct{}),
	}
	app.ws = wsbridge.New(nil)
	app.rec = timer.New(timer.SystemClock(), st)
	app.rec.SetNotifier(timerNotifier{c: app})
	app.tracker = calltrack.New(calltrack.Options{
		AppHints: cfg.AppHints,
		Events:   callEvents{c: app},
	})
	return app
}

func TestHandleCommandLifecycle(t *testing.T) {
	app := newTestCore(t)

	handleCommand(app, &ipc.CommandRequest{Command: ipc.CmdStart, Arg: "Code review"})
	snap := app.rec.Snapshot()
	testutil.AssertEqual(t, timer.PhaseRunning, snap.Phase, "phase after start")
	testutil.AssertEqual(t, "Code review", snap.Task, "task after start")

	handleCommand(app, &ipc.CommandRequest{Command: ipc.CmdPause})
	testutil.AssertEqual(t, timer.PhasePaused, app.rec.Snapshot().Phase, "phase after pause")

	handleCommand(app, &ipc.CommandRequest{Command: ipc.CmdResume})
	testutil.AssertEqual(t, timer.PhaseRunning, app.rec.Snapshot().Phase, "phase after resume")

	handleCommand(app, &ipc.CommandRequest{Command: ipc.CmdStop})
	testutil.AssertEqual(t, timer.PhaseStopped, app.rec.Snapshot().Phase, "phase after stop")

	entries, err := app.st.Entries()
	testutil.AssertNoError(t, err, "list entries")
	testutil.AssertEqual(t, 1, len(entries), "one entry flushed by stop")
	testutil.AssertEqual(t, "Code review", entries[0].Task, "entry task")
}

func TestHandleCommandStartTouchesRecentTasks(t *testing.T) {
	app := newTestCore(t)

	handleCommand(app, &ipc.CommandRequest{Command: ipc.CmdStart, Arg: "Writing docs"})

	recent, err := app.st.RecentTasks(5)
	testutil.AssertNoError(t, err, "recent tasks")
	testutil.AssertEqual(t, 1, len(recent), "recent task recorded")
	testutil.AssertEqual(t, "Writing docs", recent[0], "recent task name")
}

func TestHandleCommandStartWithoutArg(t *testing.T) {
	app := newTestCore(t)

	handleCommand(app, &ipc.CommandRequest{Command: ipc.CmdStart})
	testutil.AssertEqual(t, timer.PhaseStopped, app.rec.Snapshot().Phase, "start without a task must not run")

	status, err := ipc.ReadStatus()
	testutil.AssertNoError(t, err, "read status")
	testutil.AssertStringContains(t, status.LastError, "task name", "error surfaced in status")
}

func TestHandleCommandWritesStatus(t *testing.T) {
	app := newTestCore(t)

	handleCommand(app, &ipc.CommandRequest{Command: ipc.CmdStart, Arg: "Task A"})

	status, err := ipc.ReadStatus()
	testutil.AssertNoError(t, err, "read status")
	testutil.AssertEqual(t, timer.PhaseRunning, status.Timer.Phase, "status timer phase")
	testutil.AssertEqual(t, "Task A", status.Timer.Task, "status timer task")
	testutil.AssertEqual(t, "start Task A", status.LastAction, "status last action")
	testutil.AssertTrue(t, status.AutoTrack, "auto track flag")
}

func TestHandleCommandQuitClosesChannel(t *testing.T) {
	app := newTestCore(t)

	handleCommand(app, &ipc.CommandRequest{Command: ipc.CmdQuit})
	select {
	case <-app.quit:
	default:
		t.Fatal("quit channel not closed")
	}

	// A second quit must not panic on the already-closed channel.
	handleCommand(app, &ipc.CommandRequest{Command: ipc.CmdQuit})
}
