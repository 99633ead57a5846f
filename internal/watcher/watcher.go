// Package watcher polls a workspace for files changed outside the editor.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"rscope/internal/paths"
	"rscope/internal/revalidate"
	"rscope/internal/workspace"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

// Event represents a file system event
type Event struct {
	Type      EventType
	URI       string
	Timestamp time.Time
}

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeHandler is called with each debounced batch.
type ChangeHandler func(events []Event)

// Target receives disk changes. *engine.Engine satisfies it.
type Target interface {
	OnFileChangedOnDisk(uri string) error
	OnFileDeleted(uri string) []*revalidate.Task
}

// Config contains watcher configuration
type Config struct {
	PollInterval time.Duration
	Debounce     time.Duration
	Extensions   []string
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		Debounce:     300 * time.Millisecond,
		Extensions:   []string{".r", ".R"},
	}
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// Watcher polls a workspace root and reports created, modified and
// deleted files.
type Watcher struct {
	root    string
	config  Config
	logger  *slog.Logger
	batcher *Batcher

	mu       sync.Mutex
	snapshot map[string]fileStamp
	polls    int
	emitted  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for root. Batches are handed to handler after
// config.Debounce of quiet.
func New(root string, config Config, logger *slog.Logger, handler ChangeHandler) *Watcher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if len(config.Extensions) == 0 {
		config.Extensions = DefaultConfig().Extensions
	}
	w := &Watcher{
		root:     root,
		config:   config,
		logger:   logger,
		snapshot: make(map[string]fileStamp),
	}
	w.batcher = NewBatcher(config.Debounce, func(events []Event) {
		w.mu.Lock()
		w.emitted += len(events)
		w.mu.Unlock()
		if handler != nil {
			handler(events)
		}
	})
	return w
}

// Start takes the initial snapshot and begins polling until ctx ends or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	snap, err := w.take(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.snapshot = snap
	w.mu.Unlock()

	ctx, w.cancel = context.WithCancel(ctx)
	w.logger.Info("Starting workspace watcher",
		"root", w.root,
		"files", len(snap),
		"pollInterval", w.config.PollInterval)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops polling and drops any pending batch.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.batcher.Cancel()
	w.logger.Info("Workspace watcher stopped")
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("Workspace poll failed", "error", err.Error())
			}
		}
	}
}

// Poll compares the workspace against the last snapshot and queues the
// differences on the batcher. It returns the events found.
func (w *Watcher) Poll(ctx context.Context) ([]Event, error) {
	snap, err := w.take(ctx)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	events := diff(w.snapshot, snap, time.Now())
	w.snapshot = snap
	w.polls++
	w.mu.Unlock()

	for _, ev := range events {
		w.logger.Debug("Disk change detected", "uri", ev.URI, "type", ev.Type.String())
		w.batcher.Add(ev)
	}
	return events, nil
}

// Flush emits any pending batch immediately.
func (w *Watcher) Flush() {
	w.batcher.Flush()
}

func (w *Watcher) take(ctx context.Context) (map[string]fileStamp, error) {
	files, err := workspace.Discover(ctx, w.root, w.config.Extensions)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]fileStamp, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		snap[paths.URIFromPath(f)] = fileStamp{size: info.Size(), modTime: info.ModTime()}
	}
	return snap, nil
}

func diff(old, cur map[string]fileStamp, now time.Time) []Event {
	var events []Event
	for uri, st := range cur {
		prev, ok := old[uri]
		switch {
		case !ok:
			events = append(events, Event{Type: EventCreate, URI: uri, Timestamp: now})
		case prev.size != st.size || !prev.modTime.Equal(st.modTime):
			events = append(events, Event{Type: EventModify, URI: uri, Timestamp: now})
		}
	}
	for uri := range old {
		if _, ok := cur[uri]; !ok {
			events = append(events, Event{Type: EventDelete, URI: uri, Timestamp: now})
		}
	}
	sortEvents(events)
	return events
}

func sortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].URI != events[j].URI {
			return events[i].URI < events[j].URI
		}
		return events[i].Type < events[j].Type
	})
}

// Dispatch returns a handler that forwards each event to t.
func Dispatch(t Target, logger *slog.Logger) ChangeHandler {
	return func(events []Event) {
		for _, ev := range events {
			switch ev.Type {
			case EventDelete:
				t.OnFileDeleted(ev.URI)
			default:
				if err := t.OnFileChangedOnDisk(ev.URI); err != nil {
					logger.Warn("Failed to queue disk change",
						"uri", ev.URI,
						"error", err.Error())
				}
			}
		}
	}
}

// Stats returns watcher statistics
func (w *Watcher) Stats() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	return map[string]interface{}{
		"root":           w.root,
		"trackedFiles":   len(w.snapshot),
		"polls":          w.polls,
		"emittedEvents":  w.emitted,
		"pendingEvents":  w.batcher.Pending(),
		"mergedEvents":   w.batcher.Merged(),
		"pollIntervalMs": w.config.PollInterval.Milliseconds(),
	}
}
