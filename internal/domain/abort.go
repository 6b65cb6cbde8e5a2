package domain

import "sync"

// AbortController owns a one-shot abort signal. Abort runs every attached
// listener exactly once; listeners attached after Abort run immediately.
type AbortController struct {
	mu        sync.Mutex
	aborted   bool
	listeners []func()
	signal    *AbortSignal
}

// AbortSignal is the listener-facing side of an AbortController.
type AbortSignal struct {
	c *AbortController
}

// NewAbortController creates a controller in the non-aborted state.
func NewAbortController() *AbortController {
	c := &AbortController{}
	c.signal = &AbortSignal{c: c}
	return c
}

// Signal returns the controller's signal.
func (c *AbortController) Signal() *AbortSignal {
	return c.signal
}

// Abort fires the signal. Subsequent calls are no-ops.
func (c *AbortController) Abort() {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return
	}
	c.aborted = true
	listeners := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Aborted reports whether the signal has fired.
func (s *AbortSignal) Aborted() bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.aborted
}

// AddListener attaches fn to the abort event.
func (s *AbortSignal) AddListener(fn func()) {
	s.c.mu.Lock()
	if s.c.aborted {
		s.c.mu.Unlock()
		fn()
		return
	}
	s.c.listeners = append(s.c.listeners, fn)
	s.c.mu.Unlock()
}
