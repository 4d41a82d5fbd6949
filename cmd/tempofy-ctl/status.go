package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiroq/tempofy/internal/ipc"
	"github.com/tiroq/tempofy/internal/report"
	"github.com/tiroq/tempofy/internal/timer"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's timer and call state",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := ipc.ReadStatus()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("Daemon not running (no status file). Start it with tempofy-core.")
			return nil
		}
		return err
	}

	fmt.Println("Tempofy Status")
	fmt.Println(strings.Repeat("=", 40))

	fmt.Println("\nTimer:")
	switch status.Timer.Phase {
	case timer.PhaseStopped:
		fmt.Println("  Phase:    stopped")
	default:
		fmt.Printf("  Phase:    %s\n", status.Timer.Phase)
		fmt.Printf("  Task:     %s\n", status.Timer.Task)
		fmt.Printf("  Elapsed:  %s\n", report.FormatDuration(status.Timer.ElapsedSeconds))
	}
	if status.Timer.SuspendedTask != "" {
		fmt.Printf("  Suspended: %s (will resume after the call)\n", status.Timer.SuspendedTask)
	}

	fmt.Println("\nCall detection:")
	if status.Call != nil {
		fmt.Printf("  In call:  %s\n", status.Call.Title)
		if len(status.Call.Participants) > 0 {
			fmt.Printf("  With:     %s\n", strings.Join(status.Call.Participants, ", "))
		}
		fmt.Printf("  Since:    %s\n", status.Call.StartedAt.Local().Format("15:04:05"))
	} else {
		fmt.Println("  In call:  no")
	}
	fmt.Printf("  Auto-track: %v\n", status.AutoTrack)

	fmt.Println("\nDaemon:")
	fmt.Printf("  PID:      %d\n", status.PID)
	fmt.Printf("  Updated:  %s ago\n", time.Since(status.Timestamp).Round(time.Second))
	if status.LastAction != "" {
		fmt.Printf("  Last action: %s\n", status.LastAction)
	}
	if status.LastError != "" {
		fmt.Printf("  Last error:  %s\n", status.LastError)
	}
	return nil
}
