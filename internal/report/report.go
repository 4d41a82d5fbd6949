// Package report aggregates stored time entries into daily and weekly
// summaries and renders the weekly CSV export. The reporting week runs
// Saturday through Friday to line up with the payroll cutoff the export
// feeds.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/tiroq/tempofy/internal/store"
)

// TaskTotal is the accumulated time for one task within a summary window.
type TaskTotal struct {
	Task         string `json:"task"`
	TotalSeconds int    `json:"total_seconds"`
	EntryCount   int    `json:"entry_count"`
}

// Summary is an aggregated view over a date window.
type Summary struct {
	From         time.Time         `json:"from"`
	To           time.Time         `json:"to"` // exclusive
	Entries      []store.TimeEntry `json:"entries"`
	Tasks        []TaskTotal       `json:"tasks"`
	TotalSeconds int               `json:"total_seconds"`
}

// entryTime parses the entry's date string; entries with garbage dates sort
// to the zero time rather than breaking the report.
func entryTime(e store.TimeEntry) time.Time {
	t, err := time.Parse(time.RFC3339, e.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DayBounds returns the local-midnight window containing ref.
func DayBounds(ref time.Time) (time.Time, time.Time) {
	start := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	return start, start.AddDate(0, 0, 1)
}

// WeekBounds returns the Saturday-to-Friday reporting week containing ref.
func WeekBounds(ref time.Time) (time.Time, time.Time) {
	daysSinceSaturday := int(ref.Weekday()) + 1
	if ref.Weekday() == time.Saturday {
		daysSinceSaturday = 0
	}
	start := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	start = start.AddDate(0, 0, -daysSinceSaturday)
	return start, start.AddDate(0, 0, 7)
}

// Daily summarizes the day containing ref. Entries come back newest first.
func Daily(entries []store.TimeEntry, ref time.Time) Summary {
	from, to := DayBounds(ref)
	return summarize(entries, from, to)
}

// Weekly summarizes the reporting week containing ref.
func Weekly(entries []store.TimeEntry, ref time.Time) Summary {
	from, to := WeekBounds(ref)
	return summarize(entries, from, to)
}

func summarize(entries []store.TimeEntry, from, to time.Time) Summary {
	s := Summary{From: from, To: to}

	for _, e := range entries {
		ts := entryTime(e)
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		s.Entries = append(s.Entries, e)
		s.TotalSeconds += e.Duration
	}

	sort.Slice(s.Entries, func(i, j int) bool {
		return entryTime(s.Entries[i]).After(entryTime(s.Entries[j]))
	})

	totals := make(map[string]*TaskTotal)
	var order []string
	for _, e := range s.Entries {
		tt, ok := totals[e.Task]
		if !ok {
			tt = &TaskTotal{Task: e.Task}
			totals[e.Task] = tt
			order = append(order, e.Task)
		}
		tt.TotalSeconds += e.Duration
		tt.EntryCount++
	}
	for _, task := range order {
		s.Tasks = append(s.Tasks, *totals[task])
	}
	sort.Slice(s.Tasks, func(i, j int) bool {
		if s.Tasks[i].TotalSeconds != s.Tasks[j].TotalSeconds {
			return s.Tasks[i].TotalSeconds > s.Tasks[j].TotalSeconds
		}
		return s.Tasks[i].Task < s.Tasks[j].Task
	})
	return s
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// WriteCSV renders entries as the weekly export: one row per entry with the
// duration in both fractional hours and whole minutes, dates as YYYY-MM-DD so
// spreadsheets sort them correctly.
func WriteCSV(w io.Writer, entries []store.TimeEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Date", "Task", "Duration (hours)", "Duration (minutes)"}); err != nil {
		return err
	}
	for _, e := range entries {
		ts := entryTime(e)
		row := []string{
			ts.Format("2006-01-02"),
			e.Task,
			fmt.Sprintf("%.2f", float64(e.Duration)/3600),
			fmt.Sprintf("%d", (e.Duration+30)/60),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFileName returns the canonical name for a weekly export starting at
// weekStart.
func ExportFileName(weekStart time.Time) string {
	return fmt.Sprintf("time-report-%s.csv", weekStart.Format("2006-01-02"))
}
