// Package classifier decides whether a conferencing window title represents
// an active call, and derives a human-readable meeting name from it. Both
// operations are pure functions over the title string; they are deliberately
// heuristic and accept false negatives (a missed call merely fails to
// auto-track) in preference to false positives (a spurious timer start
// pollutes the time log).
package classifier

import (
	"regexp"
	"strings"
)

// Rule pairs a compiled pattern with a label so individual rules can be
// tested and logged by name.
type Rule struct {
	Label   string
	Pattern *regexp.Regexp
}

// exclusionRules match window titles known never to represent an active
// call. They are evaluated before any inclusion rule: a title like
// "Calendar | Microsoft Teams" must stay excluded even though it carries
// substrings an inclusion rule would match.
var exclusionRules = []Rule{
	{"calendar-view", regexp.MustCompile(`(?i)^Calendar\s*\|`)},
	{"chat-view", regexp.MustCompile(`(?i)^Chat\s*\|`)},
	{"app-home", regexp.MustCompile(`(?i)^Teams\s*\|`)},
	{"activity-feed", regexp.MustCompile(`(?i)^Activity\s*\|`)},
	{"call-history", regexp.MustCompile(`(?i)^Calls\s*\|`)},
	{"files-view", regexp.MustCompile(`(?i)^Files\s*\|`)},
	{"apps-view", regexp.MustCompile(`(?i)^Apps\s*\|`)},
}

// inclusionRules match positive indicators of being in a call. Any single
// match is sufficient once the exclusions have passed.
var inclusionRules = []Rule{
	{"meeting-with", regexp.MustCompile(`(?i)Meeting\s+with\s+`)},
	{"meeting-compact-view", regexp.MustCompile(`(?i)Meeting\s+compact\s+view`)},
	{"call-timer", regexp.MustCompile(`\d+:\d+:\d+`)},
	{"call-with", regexp.MustCompile(`(?i)^Call\s+with\s+`)},
	{"meeting-stage", regexp.MustCompile(`(?i)\|\s*Meeting\s+stage`)},
}

// Classify reports whether windowTitle looks like an active call.
// Exclusions are checked first and always win.
func Classify(windowTitle string) bool {
	for _, rule := range exclusionRules {
		if rule.Pattern.MatchString(windowTitle) {
			return false
		}
	}
	for _, rule := range inclusionRules {
		if rule.Pattern.MatchString(windowTitle) {
			return true
		}
	}
	return false
}

// MatchedRule returns the label of the first rule that decides the verdict
// for windowTitle, or "" when no rule matches. Used for diagnostic logging.
func MatchedRule(windowTitle string) string {
	for _, rule := range exclusionRules {
		if rule.Pattern.MatchString(windowTitle) {
			return "exclude:" + rule.Label
		}
	}
	for _, rule := range inclusionRules {
		if rule.Pattern.MatchString(windowTitle) {
			return "include:" + rule.Label
		}
	}
	return ""
}

// DefaultMeetingName is substituted when a title reduces to nothing usable.
const DefaultMeetingName = "Teams Call"

var (
	appSuffixPattern = regexp.MustCompile(`(?i)\s*[|-]\s*Microsoft Teams$`)
	timerTailPattern = regexp.MustCompile(`\s*\d+:\d+:\d+.*$`)
)

// ExtractMeetingName derives a display name from a raw window title: app
// suffixes and the live call timer are stripped, and only the first
// '|'-separated segment is kept (Teams concatenates meeting name,
// organization and account email with '|'). The function is idempotent.
func ExtractMeetingName(windowTitle string) string {
	name := appSuffixPattern.ReplaceAllString(windowTitle, "")
	name = timerTailPattern.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)

	if idx := strings.Index(name, "|"); idx >= 0 {
		name = strings.TrimSpace(name[:idx])
	}

	if name == "" || name == "Microsoft Teams" || name == "Teams" {
		return DefaultMeetingName
	}
	return name
}
