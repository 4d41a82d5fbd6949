//go:build darwin

package window

import (
	"time"

	"github.com/progrium/darwinkit/macos/appkit"
)

// WorkspaceSampler reads the frontmost application via NSWorkspace.
type WorkspaceSampler struct {
	workspace appkit.Workspace
}

// NewWorkspaceSampler creates the macOS foreground-window sampler.
func NewWorkspaceSampler() *WorkspaceSampler {
	return &WorkspaceSampler{
		workspace: appkit.Workspace_SharedWorkspace(),
	}
}

// SampleForegroundWindow returns the frontmost application's localized name
// as both title and owner. NSWorkspace exposes only the application name;
// reading the actual window title (where Teams puts its call markers) needs
// the accessibility APIs and their permission prompt, so title detail here
// is limited to what the platform surfaces through the app name.
func (ws *WorkspaceSampler) SampleForegroundWindow() (*Sample, error) {
	frontApp := ws.workspace.FrontmostApplication()
	if frontApp.Ptr() == nil {
		return nil, nil
	}

	name := frontApp.LocalizedName()
	if name == "" {
		return nil, nil
	}

	return &Sample{
		Title:      name,
		OwnerName:  name,
		ObservedAt: time.Now(),
	}, nil
}
