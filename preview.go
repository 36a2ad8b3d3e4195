package camerarecorder

import (
	"sync"

	"github.com/google/uuid"
)

// Gravity controls how the preview is fitted into its display bounds
type Gravity int

const (
	// GravityResizeAspectFill preserves aspect ratio and fills the bounds, cropping
	GravityResizeAspectFill Gravity = iota
	// GravityResizeAspect preserves aspect ratio and fits within the bounds
	GravityResizeAspect
	// GravityResize stretches to the bounds
	GravityResize
)

// String returns a human-readable string representation of the gravity
func (g Gravity) String() string {
	switch g {
	case GravityResizeAspectFill:
		return "resize-aspect-fill"
	case GravityResizeAspect:
		return "resize-aspect"
	case GravityResize:
		return "resize"
	default:
		return "unknown"
	}
}

// PreviewPort hands out the render target bound to a capture graph
type PreviewPort struct {
	graph *CaptureGraph

	once   sync.Once
	target *RenderTarget
}

// NewPreviewPort creates a port for graph. No target exists until RenderTarget is called.
func NewPreviewPort(graph *CaptureGraph) *PreviewPort {
	return &PreviewPort{graph: graph}
}

// RenderTarget returns the port's render target, creating it on first use.
// Every call returns the same target.
func (p *PreviewPort) RenderTarget() *RenderTarget {
	p.once.Do(func() {
		p.target = &RenderTarget{
			id:      uuid.New().String(),
			graph:   p.graph,
			gravity: GravityResizeAspectFill,
		}
	})
	return p.target
}

// RenderTarget is the handle a display layer binds to.
//
// It refers to the graph rather than to a session, so it keeps showing the
// live session across reconfigurations.
type RenderTarget struct {
	id    string
	graph *CaptureGraph

	mu      sync.RWMutex
	gravity Gravity
}

// ID returns the target's unique identifier
func (t *RenderTarget) ID() string {
	return t.id
}

// Session returns the session currently feeding the target
func (t *RenderTarget) Session() Session {
	return t.graph.Session()
}

// Gravity returns how the display layer should fit the preview
func (t *RenderTarget) Gravity() Gravity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gravity
}

// SetGravity changes how the display layer should fit the preview
func (t *RenderTarget) SetGravity(g Gravity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gravity = g
}

// LatestFrame returns the newest decoded frame of the live session.
// It reports false when the session exposes no frames or none arrived yet.
func (t *RenderTarget) LatestFrame() (PreviewFrame, bool) {
	src, ok := t.Session().(PreviewSource)
	if !ok {
		return PreviewFrame{}, false
	}
	return src.LatestPreviewFrame()
}
