//go:build !darwin

package window

import "fmt"

// WorkspaceSampler is a stub for non-darwin platforms.
type WorkspaceSampler struct{}

// NewWorkspaceSampler creates the stub sampler.
func NewWorkspaceSampler() *WorkspaceSampler {
	return &WorkspaceSampler{}
}

// SampleForegroundWindow always fails on unsupported platforms. The tracker
// treats the error as "no sample".
func (ws *WorkspaceSampler) SampleForegroundWindow() (*Sample, error) {
	return nil, fmt.Errorf("foreground window sampling not supported on this platform")
}
