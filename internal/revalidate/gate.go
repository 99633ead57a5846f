package revalidate

import "sync"

// Gate enforces monotonic publishing per document.
type Gate struct {
	mu    sync.Mutex
	last  map[string]int32
	force map[string]bool
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{last: make(map[string]int32), force: make(map[string]bool)}
}

// CanPublish reports whether diagnostics computed at version may be
// published. A document never published before always passes. Otherwise
// the version must be newer than the last published one, or equal to it
// when a forced republish is pending.
func (g *Gate) CanPublish(uri string, version int32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canPublishLocked(uri, version)
}

func (g *Gate) canPublishLocked(uri string, version int32) bool {
	last, ok := g.last[uri]
	if !ok {
		return true
	}
	if version < last {
		return false
	}
	if g.force[uri] {
		return version >= last
	}
	return version > last
}

// RecordPublish stores version as the last published one and clears any
// forced republish.
func (g *Gate) RecordPublish(uri string, version int32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last[uri] = version
	delete(g.force, uri)
}

// TryPublish runs publish when CanPublish holds and records the version if
// publish reports that it emitted. Everything happens under the gate lock,
// so publish may re-check freshness without racing other publishers.
func (g *Gate) TryPublish(uri string, version int32, publish func() bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.canPublishLocked(uri, version) {
		return false
	}
	if !publish() {
		return false
	}
	g.last[uri] = version
	delete(g.force, uri)
	return true
}

// MarkForce allows one republish at the last published version.
func (g *Gate) MarkForce(uri string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.force[uri] = true
}

// ClearForce withdraws a pending forced republish.
func (g *Gate) ClearForce(uri string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.force, uri)
}

// Forced reports whether a forced republish is pending.
func (g *Gate) Forced(uri string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.force[uri]
}

// LastPublished returns the last published version of uri.
func (g *Gate) LastPublished(uri string) (int32, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.last[uri]
	return v, ok
}

// Clear forgets uri, typically on close.
func (g *Gate) Clear(uri string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, uri)
	delete(g.force, uri)
}
