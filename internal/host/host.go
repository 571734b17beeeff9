// Package host holds process-wide settings that display modules may read.
// A single Context is built at startup and passed to every module; there
// are no package-level globals.
package host

import (
	"context"
	"sync"

	"github.com/uvstream/vrgdisplay/internal/video"
)

// Settings are the user-forced defaults a module may consult when it
// receives no better information from the stream.
type Settings struct {
	// Desc is the default video format (size, color spec, bit depth,
	// progressive flag). Displays that open a surface before the first
	// frame size it from here.
	Desc video.Desc
	// Argv is the command line the process was started with.
	Argv []string
}

// Context is the explicit replacement for host-wide mutable state. It
// owns the process lifetime: Exit cancels Done for every holder.
type Context struct {
	settings Settings

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	exitStatus int
	exited     bool
}

// New creates a host context derived from parent.
func New(parent context.Context, settings Settings) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		settings: settings,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Settings returns a copy of the process settings.
func (h *Context) Settings() Settings {
	return h.settings
}

// Context returns a context cancelled when the process should exit.
func (h *Context) Context() context.Context {
	return h.ctx
}

// Done is closed once Exit has been called or the parent is cancelled.
func (h *Context) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Exit requests process shutdown with status. Only the first call sets
// the status.
func (h *Context) Exit(status int) {
	h.mu.Lock()
	if !h.exited {
		h.exited = true
		h.exitStatus = status
	}
	h.mu.Unlock()
	h.cancel()
}

// ExitStatus returns the status passed to the first Exit call.
func (h *Context) ExitStatus() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitStatus
}
