package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiroq/tempofy/internal/report"
	"github.com/tiroq/tempofy/internal/store"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show a daily or weekly time summary",
		Args:  cobra.NoArgs,
		RunE:  runReport,
	}
	cmd.Flags().Bool("week", false, "Summarize the current reporting week (Sat-Fri) instead of today")
	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	st, err := store.Open(store.DefaultPath())
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.Entries()
	if err != nil {
		return err
	}

	now := time.Now()
	week, _ := cmd.Flags().GetBool("week")

	var s report.Summary
	if week {
		s = report.Weekly(entries, now)
		fmt.Printf("Week %s - %s\n", s.From.Format("Jan 2"), s.To.AddDate(0, 0, -1).Format("Jan 2"))
	} else {
		s = report.Daily(entries, now)
		fmt.Printf("Today, %s\n", s.From.Format("Mon Jan 2"))
	}
	fmt.Println(strings.Repeat("=", 40))

	if len(s.Entries) == 0 {
		fmt.Println("No time tracked in this window.")
		return nil
	}

	for _, tt := range s.Tasks {
		fmt.Printf("  %-40s %s", truncate(tt.Task, 40), report.FormatDuration(tt.TotalSeconds))
		if tt.EntryCount > 1 {
			fmt.Printf("  (%d entries)", tt.EntryCount)
		}
		fmt.Println()
	}
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("  %-40s %s\n", "Total", report.FormatDuration(s.TotalSeconds))
	return nil
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export the current reporting week as CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExport,
	}
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	st, err := store.Open(store.DefaultPath())
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now()
	weekStart, weekEnd := report.WeekBounds(now)
	entries, err := st.EntriesByDateRange(weekStart, weekEnd)
	if err != nil {
		return err
	}

	path := report.ExportFileName(weekStart)
	if len(args) == 1 {
		path = args[0]
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := report.WriteCSV(f, entries); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d entries)\n", path, len(entries))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
