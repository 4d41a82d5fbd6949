// Package window abstracts the platform foreground-window inspector that
// feeds the call tracker. The sampler is best-effort: permission errors and
// "no foreground window" both surface as a nil sample, never as a fault the
// caller must handle.
package window

import "time"

// Sample is one observation of the foreground window. Samples are ephemeral;
// one is produced per poll tick and none are persisted.
type Sample struct {
	Title      string    `json:"title"`
	OwnerName  string    `json:"owner_name"`
	ObservedAt time.Time `json:"observed_at"`
}

// Sampler yields the current foreground window. Implementations return
// (nil, nil) when no window can be observed; a non-nil error is reserved for
// unexpected platform failures and is treated the same as a nil sample by
// the tracker.
type Sampler interface {
	SampleForegroundWindow() (*Sample, error)
}
