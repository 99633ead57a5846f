// Package revalidate decides when diagnostics are republished after a
// change elsewhere in the workspace.
//
// Every open document has at most one pending revalidation. Scheduling a
// new one cancels the previous context before the new task starts, and the
// publish step re-checks the document version under the gate so that a
// document never sees its diagnostics go backwards.
package revalidate

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrSuperseded is the cancellation cause of a task replaced by a newer
	// schedule for the same document.
	ErrSuperseded = errors.New("superseded by a newer revalidation")
	// ErrCancelled is the cancellation cause of a task dropped because its
	// document closed or the scheduler shut down.
	ErrCancelled = errors.New("revalidation cancelled")
)

// Ticket is the cancellation handle of one scheduled revalidation.
type Ticket struct {
	ID     string
	URI    string
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Context is cancelled when the ticket is superseded or cancelled.
func (t *Ticket) Context() context.Context {
	return t.ctx
}

// Cancelled reports whether the ticket is no longer current.
func (t *Ticket) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Cause returns why the ticket was cancelled, nil while it is live.
func (t *Ticket) Cause() error {
	return context.Cause(t.ctx)
}

// State tracks the outstanding ticket of each document.
type State struct {
	mu      sync.Mutex
	parent  context.Context
	pending map[string]*Ticket
}

// NewState creates an empty state. Tickets derive from parent.
func NewState(parent context.Context) *State {
	if parent == nil {
		parent = context.Background()
	}
	return &State{parent: parent, pending: make(map[string]*Ticket)}
}

// Schedule cancels the document's outstanding ticket, if any, and returns
// a fresh one.
func (s *State) Schedule(uri string) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pending[uri]; ok {
		prev.cancel(ErrSuperseded)
	}
	ctx, cancel := context.WithCancelCause(s.parent)
	t := &Ticket{ID: uuid.New().String(), URI: uri, ctx: ctx, cancel: cancel}
	s.pending[uri] = t
	return t
}

// Complete releases t. A ticket that was already replaced is left alone.
func (s *State) Complete(t *Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.pending[t.URI]; ok && cur == t {
		delete(s.pending, t.URI)
	}
	t.cancel(nil)
}

// Cancel cancels the document's outstanding ticket. It reports whether
// there was one.
func (s *State) Cancel(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[uri]
	if !ok {
		return false
	}
	t.cancel(ErrCancelled)
	delete(s.pending, uri)
	return true
}

// CancelAll cancels every outstanding ticket and returns how many there
// were.
func (s *State) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.pending)
	for uri, t := range s.pending {
		t.cancel(ErrCancelled)
		delete(s.pending, uri)
	}
	return n
}

// Pending returns the number of outstanding tickets.
func (s *State) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// IsPending reports whether uri has an outstanding ticket.
func (s *State) IsPending(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[uri]
	return ok
}
