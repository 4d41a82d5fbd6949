package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tiroq/tempofy/internal/calltrack"
	"github.com/tiroq/tempofy/internal/config"
	"github.com/tiroq/tempofy/internal/diaglog"
	"github.com/tiroq/tempofy/internal/graph"
	"github.com/tiroq/tempofy/internal/ipc"
	"github.com/tiroq/tempofy/internal/pidfile"
	"github.com/tiroq/tempofy/internal/store"
	"github.com/tiroq/tempofy/internal/timer"
	"github.com/tiroq/tempofy/internal/window"
	"github.com/tiroq/tempofy/internal/wsbridge"
)

const (
	logPrefix    = "[tempofy-core]"
	wsBridgeAddr = "127.0.0.1:4621"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"

	outLog *log.Logger
	errLog *log.Logger

	// Sampler failures are logged once per streak, not once per tick.
	samplerErrLogged bool
)

// core bundles the daemon's moving parts so the command handler, the sampler
// loop and the websocket bridge all act on the same state.
type core struct {
	cfg     *config.Config
	st      *store.Store
	rec     *timer.Reconciler
	tracker *calltrack.Tracker
	ws      *wsbridge.Server
	diag    *diaglog.Logger

	mu         sync.Mutex
	lastAction string
	lastError  string

	quit chan struct{}
}

func (c *core) setAction(action string) {
	c.mu.Lock()
	c.lastAction = action
	c.lastError = ""
	c.mu.Unlock()
}

func (c *core) setError(err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
}

// callEvents adapts the tracker's lifecycle to the timer and the UI bridge.
type callEvents struct {
	c *core
}

func (e callEvents) CallStarted(info calltrack.CallInfo) {
	outLog.Printf("Call started: %q (session=%s)", info.Title, info.SessionID)
	if e.c.cfg.AutoTrackCalls {
		e.c.rec.OnCallStarted(timer.FormatCallTaskName(info.Title, info.Participants))
	}
	e.c.ws.Broadcast(wsbridge.EventCallStarted, info)
	writeStatus(e.c)
}

func (e callEvents) CallUpdated(info calltrack.CallInfo) {
	outLog.Printf("Call updated: %q (participants=%d)", info.Title, len(info.Participants))
	if e.c.cfg.AutoTrackCalls {
		e.c.rec.OnCallUpdated(timer.FormatCallTaskName(info.Title, info.Participants))
	}
	e.c.ws.Broadcast(wsbridge.EventCallUpdated, info)
	writeStatus(e.c)
}

func (e callEvents) CallEnded(rec calltrack.CallRecord) {
	outLog.Printf("Call ended: %q after %s", rec.Title, time.Duration(rec.DurationSeconds)*time.Second)
	if e.c.cfg.AutoTrackCalls {
		e.c.rec.OnCallEnded()
	}
	e.c.ws.Broadcast(wsbridge.EventCallEnded, rec)
	writeStatus(e.c)
}

// timerNotifier pushes reconciler snapshots to the UI bridge.
type timerNotifier struct {
	c *core
}

func (n timerNotifier) TimerStateChanged(snap timer.Snapshot) {
	n.c.ws.Broadcast(wsbridge.EventTimerState, snap)
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC in tempofy-core: %v\n", r)
			if errLog != nil {
				errLog.Printf("PANIC: %v", r)
			}
			os.Exit(1)
		}
	}()

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	outLog.Println("===========================================")
	outLog.Println("Starting Tempofy Core v" + Version + "...")
	outLog.Printf("PID: %d", os.Getpid())
	outLog.Println("===========================================")

	pidPath := pidfile.Path("tempofy-core")
	pf, err := pidfile.Acquire(pidPath)
	if err != nil {
		errLog.Printf("Failed to acquire PID file: %v", err)
		errLog.Printf("If you're sure no other instance is running, remove: %s", pidPath)
		os.Exit(1)
	}
	defer func() {
		if err := pf.Release(); err != nil {
			errLog.Printf("Warning: failed to remove PID file: %v", err)
		}
	}()
	outLog.Printf("[STARTUP] PID file created: %s", pidPath)

	cfg, err := config.Load()
	if err != nil {
		errLog.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}
	outLog.Printf("[STARTUP] Config loaded: poll=%ds, confirmations=%d/%d, auto_track=%v",
		cfg.PollInterval, cfg.StartConfirmations, cfg.StopConfirmations, cfg.AutoTrackCalls)

	st, err := store.Open(store.DefaultPath())
	if err != nil {
		errLog.Printf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()
	outLog.Printf("[STARTUP] Database opened: %s", store.DefaultPath())

	logPath := os.Getenv("TEMPOFY_LOG_PATH")
	if logPath == "" {
		logPath = "/tmp/tempofy-debug.log"
	}
	diagLogger, diagErr := diaglog.New(logPath)
	if diagErr != nil {
		errLog.Printf("[STARTUP] WARNING: could not open diagnostic log at %s: %v (continuing)", logPath, diagErr)
		diagLogger = diaglog.NewNoOp()
	}
	defer func() { _ = diagLogger.Close() }()

	app := &core{
		cfg:  cfg,
		st:   st,
		diag: diagLogger,
		quit: make(chan struct{}),
	}

	app.ws = wsbridge.New(func(msg wsbridge.ControlMessage) {
		handleCommand(app, &ipc.CommandRequest{Command: ipc.Command(msg.Command), Arg: msg.Arg})
	})
	app.ws.SetLogger(diagLogger)
	if addr, err := app.ws.Start(wsBridgeAddr); err != nil {
		errLog.Printf("[STARTUP] WARNING: websocket bridge unavailable: %v (continuing)", err)
	} else {
		outLog.Printf("[STARTUP] Websocket bridge listening on %s", addr)
	}
	defer func() { _ = app.ws.Close() }()

	app.rec = timer.New(timer.SystemClock(), st)
	app.rec.SetLogger(diagLogger)
	app.rec.SetNotifier(timerNotifier{c: app})

	var enricher calltrack.Enricher
	if cfg.Graph != nil && cfg.Graph.Enabled && cfg.Graph.AccessToken != "" {
		gc := graph.New(graph.Config{
			TenantID:    cfg.Graph.TenantID,
			ClientID:    cfg.Graph.ClientID,
			AccessToken: cfg.Graph.AccessToken,
			Timeout:     time.Duration(cfg.Graph.TimeoutSeconds) * time.Second,
		})
		gc.SetLogger(diagLogger)
		enricher = gc
		outLog.Println("[STARTUP] Graph meeting enrichment enabled")
	} else {
		outLog.Println("[STARTUP] Graph meeting enrichment disabled (not configured or not signed in)")
	}

	app.tracker = calltrack.New(calltrack.Options{
		AppHints:           cfg.AppHints,
		StartConfirmations: cfg.StartConfirmations,
		StopConfirmations:  cfg.StopConfirmations,
		Events:             callEvents{c: app},
		Enricher:           enricher,
	})
	app.tracker.SetLogger(diagLogger)

	sampler := newSampler()

	writeStatus(app)
	go watchCommands(app)

	ticker := time.NewTicker(time.Duration(cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	outLog.Printf("[STARTUP] Starting sampler loop (polling every %ds)...", cfg.PollInterval)
	outLog.Println("[RUNNING] Tempofy Core is running and monitoring")

	for {
		select {
		case <-ticker.C:
			sample, err := sampler.SampleForegroundWindow()
			if err != nil {
				if !samplerErrLogged {
					errLog.Printf("Sampler error: %v", err)
					samplerErrLogged = true
				}
				sample = nil
			} else {
				samplerErrLogged = false
			}
			app.tracker.Tick(sample)
			writeStatus(app)

		case <-sigChan:
			outLog.Println("[SHUTDOWN] Received shutdown signal")
			shutdown(app)
			return

		case <-app.quit:
			outLog.Println("[SHUTDOWN] Quit command received")
			shutdown(app)
			return
		}
	}
}

// shutdown flushes any tracked time so a restart never loses a running
// entry, then writes a final status.
func shutdown(app *core) {
	snap := app.rec.Snapshot()
	if snap.Phase != timer.PhaseStopped {
		outLog.Printf("[SHUTDOWN] Flushing active timer: %q (%ds)", snap.Task, snap.ElapsedSeconds)
		app.rec.Stop()
	}
	app.setAction("shutdown")
	writeStatus(app)
	outLog.Println("[SHUTDOWN] Shutting down gracefully")
}

// writeStatus updates the status.json file
func writeStatus(app *core) {
	app.mu.Lock()
	lastAction, lastError := app.lastAction, app.lastError
	app.mu.Unlock()

	status := ipc.StatusSnapshot{
		Timer:      app.rec.Snapshot(),
		Call:       app.tracker.Current(),
		AutoTrack:  app.cfg.AutoTrackCalls,
		LastAction: lastAction,
		LastError:  lastError,
		Timestamp:  time.Now(),
		PID:        os.Getpid(),
	}
	if err := ipc.WriteStatus(&status); err != nil {
		errLog.Printf("Failed to write status: %v", err)
	}
}

// handleCommand processes manual control commands from the command file or
// the websocket bridge.
func handleCommand(app *core, req *ipc.CommandRequest) {
	outLog.Printf("Received command: %s %q", req.Command, req.Arg)

	switch req.Command {
	case ipc.CmdStart:
		if req.Arg == "" {
			errLog.Println("start command requires a task name")
			app.setError(fmt.Errorf("start command requires a task name"))
			writeStatus(app)
			return
		}
		app.rec.Start(req.Arg)
		if err := app.st.TouchRecentTask(req.Arg); err != nil {
			errLog.Printf("Failed to record recent task: %v", err)
		}
		app.setAction("start " + req.Arg)

	case ipc.CmdPause:
		app.rec.Pause()
		app.setAction("pause")

	case ipc.CmdResume:
		app.rec.Resume()
		app.setAction("resume")

	case ipc.CmdStop:
		app.rec.Stop()
		app.setAction("stop")

	case ipc.CmdQuit:
		app.setAction("quit")
		select {
		case <-app.quit:
		default:
			close(app.quit)
		}
		return

	default:
		errLog.Printf("Unknown command: %s", req.Command)
		return
	}
	writeStatus(app)
}

// watchCommands monitors cmd.txt for manual control commands
func watchCommands(app *core) {
	cmdPath := ipc.CommandPath()
	cmdDir := filepath.Dir(cmdPath)
	if err := os.MkdirAll(cmdDir, 0755); err != nil {
		errLog.Printf("Failed to create command directory: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errLog.Printf("fsnotify not available, falling back to polling: %v", err)
		watchCommandsWithPolling(app, cmdPath)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(cmdDir); err != nil {
		errLog.Printf("Failed to watch command directory, falling back to polling: %v", err)
		watchCommandsWithPolling(app, cmdPath)
		return
	}

	outLog.Println("Command watcher started (using fsnotify)")

	// Fallback polling ticker in case fsnotify misses events.
	pollTicker := time.NewTicker(1 * time.Second)
	defer pollTicker.Stop()

	lastCheckTime := time.Now()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				outLog.Println("fsnotify watcher closed, switching to polling")
				watchCommandsWithPolling(app, cmdPath)
				return
			}
			if event.Name == cmdPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
				// Small delay to ensure write is complete
				time.Sleep(50 * time.Millisecond)

				req, err := ipc.ReadCommand()
				if err != nil || req == nil {
					continue
				}
				handleCommand(app, req)
				lastCheckTime = time.Now()
			}

		case <-pollTicker.C:
			if fileInfo, err := os.Stat(cmdPath); err == nil {
				if fileInfo.ModTime().After(lastCheckTime) {
					time.Sleep(50 * time.Millisecond)

					req, err := ipc.ReadCommand()
					if err == nil && req != nil {
						handleCommand(app, req)
					}
					lastCheckTime = time.Now()
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				outLog.Println("fsnotify error channel closed, switching to polling")
				watchCommandsWithPolling(app, cmdPath)
				return
			}
			errLog.Printf("File watcher error: %v", err)
		}
	}
}

// watchCommandsWithPolling is a pure polling-based fallback for command monitoring
func watchCommandsWithPolling(app *core, cmdPath string) {
	outLog.Println("Command watcher started (using polling fallback, 1s interval)")

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	lastCheckTime := time.Now()

	for range ticker.C {
		fileInfo, err := os.Stat(cmdPath)
		if err != nil {
			continue // File doesn't exist yet, keep polling
		}
		if fileInfo.ModTime().After(lastCheckTime) {
			time.Sleep(50 * time.Millisecond)

			req, err := ipc.ReadCommand()
			if err == nil && req != nil {
				handleCommand(app, req)
			}
			lastCheckTime = time.Now()
		}
	}
}

// newSampler returns the platform foreground-window sampler.
func newSampler() window.Sampler {
	return window.NewWorkspaceSampler()
}

// initLogging sets up log files with rotation support
func initLogging() error {
	logDir := "/tmp"

	outLogPath := filepath.Join(logDir, "tempofy-core.out.log")
	errLogPath := filepath.Join(logDir, "tempofy-core.err.log")

	if err := rotateLogIfNeeded(outLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate out log: %v\n", err)
	}
	if err := rotateLogIfNeeded(errLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate err log: %v\n", err)
	}

	outFile, err := os.OpenFile(outLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	errFile, err := os.OpenFile(errLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	outLog = log.New(outFile, logPrefix+" ", log.LstdFlags)
	errLog = log.New(errFile, logPrefix+" ERROR: ", log.LstdFlags)
	return nil
}

// rotateLogIfNeeded rotates a log file if it exceeds maxSize bytes
func rotateLogIfNeeded(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	// Rotate: rename current log to .old, removing previous .old
	oldPath := logPath + ".old"
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old log: %w", err)
	}
	return os.Rename(logPath, oldPath)
}
