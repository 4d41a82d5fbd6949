package ipc

import (
	"os"
	"path/filepath"
	"strings"
)

// Command represents user commands from the CLI/UI to the daemon
type Command string

const (
	CmdStart  Command = "start"  // Start tracking a task (takes a task-name argument)
	CmdPause  Command = "pause"  // Pause the running timer
	CmdResume Command = "resume" // Resume a paused timer
	CmdStop   Command = "stop"   // Stop the timer and save the entry
	CmdQuit   Command = "quit"   // Shutdown daemon
)

// CommandRequest is one parsed command plus its optional argument.
type CommandRequest struct {
	Command Command
	Arg     string // task name for CmdStart
}

// cacheDir returns ~/.cache/tempofy
func cacheDir() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "tempofy")
}

// CommandPath returns the path of the command channel file.
func CommandPath() string {
	return filepath.Join(cacheDir(), "cmd.txt")
}

// WriteCommand writes a command (and optional argument) to the command file.
// The daemon picks it up via fsnotify or its polling fallback.
func WriteCommand(cmd Command, arg string) error {
	if err := os.MkdirAll(cacheDir(), 0755); err != nil {
		return err
	}
	line := string(cmd)
	if arg != "" {
		line += " " + arg
	}
	return os.WriteFile(CommandPath(), []byte(line), 0644)
}

// ReadCommand reads and clears the command file. Returns a nil request when
// no command is pending or the content is not a known command.
func ReadCommand() (*CommandRequest, error) {
	data, err := os.ReadFile(CommandPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No command pending
		}
		return nil, err
	}

	// Clear the file immediately to prevent re-execution
	if err := os.WriteFile(CommandPath(), []byte(""), 0644); err != nil {
		return nil, err
	}

	line := strings.TrimSpace(string(data))
	if line == "" {
		return nil, nil
	}

	verb, arg := line, ""
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		verb, arg = line[:idx], strings.TrimSpace(line[idx+1:])
	}

	cmd := Command(verb)
	switch cmd {
	case CmdStart, CmdPause, CmdResume, CmdStop, CmdQuit:
		return &CommandRequest{Command: cmd, Arg: arg}, nil
	default:
		// Invalid command - ignore it
		return nil, nil
	}
}
