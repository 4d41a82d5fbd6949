package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tiroq/tempofy/internal/ipc"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "tempofy-ctl",
		Short:   "Tempofy - control the time-tracking daemon",
		Version: Version,
	}

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(simpleCmd("pause", "Pause the running timer", ipc.CmdPause))
	rootCmd.AddCommand(simpleCmd("resume", "Resume a paused timer", ipc.CmdResume))
	rootCmd.AddCommand(simpleCmd("stop", "Stop the timer and save the entry", ipc.CmdStop))
	rootCmd.AddCommand(simpleCmd("quit", "Shut down the daemon", ipc.CmdQuit))
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(loginCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start [task name]",
		Short: "Start tracking a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			if err := ipc.WriteCommand(ipc.CmdStart, task); err != nil {
				return err
			}
			fmt.Printf("Started: %s\n", task)
			return nil
		},
	}
}

func simpleCmd(use, short string, command ipc.Command) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ipc.WriteCommand(command, ""); err != nil {
				return err
			}
			fmt.Println("Sent:", use)
			return nil
		},
	}
}
