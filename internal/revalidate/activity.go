package revalidate

import (
	"math"
	"sync"
)

// DefaultMaxRecent bounds the recently-active list.
const DefaultMaxRecent = 100

// Activity tracks which documents the user is looking at.
type Activity struct {
	mu        sync.RWMutex
	active    string
	visible   map[string]bool
	recent    []string
	maxRecent int
}

// NewActivity creates an empty tracker keeping at most maxRecent recent
// documents.
func NewActivity(maxRecent int) *Activity {
	if maxRecent <= 0 {
		maxRecent = DefaultMaxRecent
	}
	return &Activity{visible: make(map[string]bool), maxRecent: maxRecent}
}

// Update replaces the active and visible documents. The active document
// moves to the front of the recent list.
func (a *Activity) Update(active string, visible []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.active = active
	a.visible = make(map[string]bool, len(visible))
	for _, u := range visible {
		a.visible[u] = true
	}
	if active != "" {
		a.touchLocked(active)
	}
}

// Touch records uri as the most recently active document.
func (a *Activity) Touch(uri string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.touchLocked(uri)
}

func (a *Activity) touchLocked(uri string) {
	for i, u := range a.recent {
		if u == uri {
			a.recent = append(a.recent[:i], a.recent[i+1:]...)
			break
		}
	}
	a.recent = append([]string{uri}, a.recent...)
	if len(a.recent) > a.maxRecent {
		a.recent = a.recent[:a.maxRecent]
	}
}

// Remove forgets uri.
func (a *Activity) Remove(uri string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == uri {
		a.active = ""
	}
	delete(a.visible, uri)
	for i, u := range a.recent {
		if u == uri {
			a.recent = append(a.recent[:i], a.recent[i+1:]...)
			break
		}
	}
}

// Recent returns the recent list, newest first.
func (a *Activity) Recent() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.recent...)
}

// Priority ranks uri for a revalidation caused by trigger; lower runs
// first. The trigger itself is 0, the active document 1, visible
// documents 2 and recent ones 3 plus their position in the recent list.
func (a *Activity) Priority(uri, trigger string) int {
	if uri == trigger {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	if uri == a.active {
		return 1
	}
	if a.visible[uri] {
		return 2
	}
	for i, u := range a.recent {
		if u == uri {
			return 3 + i
		}
	}
	return math.MaxInt
}
