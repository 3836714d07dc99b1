package session

import (
	"log/slog"
	"sync"

	"github.com/sio-stoke/stoke/pkg/core"
)

// Context holds the current mode name and the open session. The mode
// controller writes it; loggers and the status monitor read it.
type Context struct {
	mu      sync.RWMutex
	mode    string
	session *core.Session
}

// NewContext creates a Context in the Idle mode with no session.
func NewContext() *Context {
	return &Context{mode: "Idle"}
}

// Mode returns the current mode name.
func (c *Context) Mode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode records the current mode name.
func (c *Context) SetMode(mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// Session returns the open session, or nil.
func (c *Context) Session() *core.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Begin sets the open session.
func (c *Context) Begin(s *core.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// End clears the open session and returns it.
func (c *Context) End() *core.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	c.session = nil
	return s
}

// Attrs returns the mode and session label for log records.
func (c *Context) Attrs() []slog.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	label := ""
	if c.session != nil {
		label = c.session.Label
	}
	return []slog.Attr{
		slog.String("mode", c.mode),
		slog.String("session", label),
	}
}
