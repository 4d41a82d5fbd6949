package report

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/tiroq/tempofy/internal/store"
)

func entry(task string, at time.Time, duration int) store.TimeEntry {
	return store.TimeEntry{Task: task, Date: at.Format(time.RFC3339), Duration: duration}
}

// ── Window bounds ────────────────────────────────────────────────────────────

func TestWeekBoundsSaturdayToFriday(t *testing.T) {
	tests := []struct {
		name      string
		ref       time.Time
		wantStart string
	}{
		{"monday", time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC), "2025-05-31"},   // Sat May 31
		{"saturday", time.Date(2025, 5, 31, 9, 0, 0, 0, time.UTC), "2025-05-31"}, // week starts today
		{"friday", time.Date(2025, 6, 6, 23, 0, 0, 0, time.UTC), "2025-05-31"},   // last day of same week
		{"sunday", time.Date(2025, 6, 1, 0, 30, 0, 0, time.UTC), "2025-05-31"},
		{"next saturday", time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC), "2025-06-07"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := WeekBounds(tt.ref)
			if got := start.Format("2006-01-02"); got != tt.wantStart {
				t.Errorf("start = %s, want %s", got, tt.wantStart)
			}
			if end.Sub(start) != 7*24*time.Hour {
				t.Errorf("window length = %v", end.Sub(start))
			}
		})
	}
}

func TestDayBounds(t *testing.T) {
	start, end := DayBounds(time.Date(2025, 6, 2, 15, 42, 7, 0, time.UTC))
	if start.Format(time.RFC3339) != "2025-06-02T00:00:00Z" {
		t.Errorf("start = %v", start)
	}
	if end.Format(time.RFC3339) != "2025-06-03T00:00:00Z" {
		t.Errorf("end = %v", end)
	}
}

// ── Aggregation ──────────────────────────────────────────────────────────────

func TestDailySummaryAggregatesPerTask(t *testing.T) {
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	entries := []store.TimeEntry{
		entry("Code review", day.Add(9*time.Hour), 1800),
		entry("Writing docs", day.Add(10*time.Hour), 3600),
		entry("Code review", day.Add(14*time.Hour), 900),
		entry("Writing docs", day.AddDate(0, 0, -1), 7200), // yesterday, excluded
	}

	s := Daily(entries, day.Add(12*time.Hour))

	if len(s.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(s.Entries))
	}
	if s.TotalSeconds != 1800+3600+900 {
		t.Errorf("total = %d", s.TotalSeconds)
	}
	// Newest first.
	if s.Entries[0].Task != "Code review" || s.Entries[0].Duration != 900 {
		t.Errorf("entries[0] = %+v", s.Entries[0])
	}
	if len(s.Tasks) != 2 {
		t.Fatalf("tasks = %+v", s.Tasks)
	}
	// Largest total first.
	if s.Tasks[0].Task != "Writing docs" || s.Tasks[0].TotalSeconds != 3600 {
		t.Errorf("tasks[0] = %+v", s.Tasks[0])
	}
	if s.Tasks[1].Task != "Code review" || s.Tasks[1].TotalSeconds != 2700 || s.Tasks[1].EntryCount != 2 {
		t.Errorf("tasks[1] = %+v", s.Tasks[1])
	}
}

func TestWeeklySummaryWindow(t *testing.T) {
	// Week of Sat May 31 .. Fri Jun 6.
	entries := []store.TimeEntry{
		entry("In week", time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC), 600),
		entry("In week", time.Date(2025, 6, 6, 23, 59, 0, 0, time.UTC), 600),
		entry("Before", time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC), 600),
		entry("After", time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC), 600),
	}

	s := Weekly(entries, time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC))
	if len(s.Entries) != 2 {
		t.Fatalf("entries = %d, want 2 (window is inclusive start, exclusive end)", len(s.Entries))
	}
	if s.TotalSeconds != 1200 {
		t.Errorf("total = %d", s.TotalSeconds)
	}
}

func TestSummaryEmptyWindow(t *testing.T) {
	s := Daily(nil, time.Now())
	if len(s.Entries) != 0 || len(s.Tasks) != 0 || s.TotalSeconds != 0 {
		t.Errorf("summary = %+v", s)
	}
}

// ── Formatting ───────────────────────────────────────────────────────────────

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "00:00:00"},
		{59, "00:00:59"},
		{60, "00:01:00"},
		{3600, "01:00:00"},
		{3725, "01:02:05"},
		{36000 + 23*60 + 45, "10:23:45"},
		{-5, "00:00:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

// ── CSV export ───────────────────────────────────────────────────────────────

func TestWriteCSV(t *testing.T) {
	entries := []store.TimeEntry{
		entry("Code review", time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC), 5400),     // 1.5h
		entry("Teams: Standup", time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), 930),   // 15.5min
		entry(`Tricky, "quoted"`, time.Date(2025, 6, 3, 11, 0, 0, 0, time.UTC), 60),
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, entries); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(rows))
	}
	wantHeader := []string{"Date", "Task", "Duration (hours)", "Duration (minutes)"}
	for i, col := range wantHeader {
		if rows[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], col)
		}
	}
	if rows[1][0] != "2025-06-02" || rows[1][2] != "1.50" || rows[1][3] != "90" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2][3] != "16" {
		t.Errorf("minutes must round, got %v", rows[2][3])
	}
	if rows[3][1] != `Tricky, "quoted"` {
		t.Errorf("quoting broken: %v", rows[3])
	}
}

func TestExportFileName(t *testing.T) {
	name := ExportFileName(time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC))
	if name != "time-report-2025-05-31.csv" {
		t.Errorf("name = %q", name)
	}
}
