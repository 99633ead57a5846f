package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rscope/internal/paths"
	"rscope/internal/revalidate"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      string
	}{
		{EventCreate, "create"},
		{EventModify, "modify"},
		{EventDelete, "delete"},
		{EventType(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.eventType.String()
			if got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", config.PollInterval)
	}
	if config.Debounce != 300*time.Millisecond {
		t.Errorf("Debounce = %v, want 300ms", config.Debounce)
	}
	if len(config.Extensions) == 0 {
		t.Error("Extensions should not be empty")
	}
}

func TestDiff(t *testing.T) {
	t0 := time.Unix(1000, 0)
	t1 := time.Unix(2000, 0)
	old := map[string]fileStamp{
		"file:///a.r": {size: 10, modTime: t0},
		"file:///b.r": {size: 10, modTime: t0},
		"file:///c.r": {size: 10, modTime: t0},
		"file:///d.r": {size: 10, modTime: t0},
	}
	cur := map[string]fileStamp{
		"file:///a.r": {size: 10, modTime: t0},
		"file:///b.r": {size: 12, modTime: t0},
		"file:///c.r": {size: 10, modTime: t1},
		"file:///e.r": {size: 1, modTime: t1},
	}

	events := diff(old, cur, t1)
	want := []Event{
		{Type: EventModify, URI: "file:///b.r"},
		{Type: EventModify, URI: "file:///c.r"},
		{Type: EventDelete, URI: "file:///d.r"},
		{Type: EventCreate, URI: "file:///e.r"},
	}
	if len(events) != len(want) {
		t.Fatalf("diff() returned %d events, want %d: %v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev.Type != want[i].Type || ev.URI != want[i].URI {
			t.Errorf("events[%d] = %s %s, want %s %s", i, ev.Type, ev.URI, want[i].Type, want[i].URI)
		}
	}
}

func TestPoll(t *testing.T) {
	root := t.TempDir()
	write := func(name, text string) string {
		p := filepath.Join(root, name)
		if err := os.WriteFile(p, []byte(text), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		return p
	}
	keep := write("keep.r", "x <- 1\n")
	gone := write("gone.r", "y <- 2\n")
	write("notes.txt", "ignored\n")

	var mu sync.Mutex
	var batches [][]Event
	w := New(root, Config{PollInterval: time.Hour, Debounce: time.Hour}, discard(), func(events []Event) {
		mu.Lock()
		batches = append(batches, events)
		mu.Unlock()
	})

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(keep, []byte("x <- 1\nz <- 3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	added := write("new.r", "n <- 0\n")

	events, err := w.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Poll() returned %d events, want 3: %v", len(events), events)
	}

	w.Flush()
	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("handler called %d times, want 1", len(batches))
	}
	types := make(map[string]EventType)
	for _, ev := range batches[0] {
		types[ev.URI] = ev.Type
	}
	checks := map[string]EventType{
		paths.URIFromPath(keep):  EventModify,
		paths.URIFromPath(gone):  EventDelete,
		paths.URIFromPath(added): EventCreate,
	}
	for uri, want := range checks {
		if got, ok := types[uri]; !ok || got != want {
			t.Errorf("event for %s = %v (present %v), want %v", uri, got, ok, want)
		}
	}

	stats := w.Stats()
	if stats["trackedFiles"] != 2 {
		t.Errorf("stats[trackedFiles] = %v, want 2", stats["trackedFiles"])
	}
	if stats["emittedEvents"] != 3 {
		t.Errorf("stats[emittedEvents] = %v, want 3", stats["emittedEvents"])
	}
}

func TestPollNoChanges(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.r"), []byte("a <- 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	w := New(root, Config{PollInterval: time.Hour}, discard(), nil)
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	events, err := w.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Poll() = %v, want no events", events)
	}
}

func TestPollCoalescesAcrossPolls(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "a.r")
	if err := os.WriteFile(p, []byte("a <- 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var mu sync.Mutex
	var batches [][]Event
	w := New(root, Config{PollInterval: time.Hour, Debounce: time.Hour}, discard(), func(events []Event) {
		mu.Lock()
		batches = append(batches, events)
		mu.Unlock()
	})
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	for _, text := range []string{"a <- 1\nb <- 2\n", "a <- 1\nb <- 2\nc <- 3\n"} {
		if err := os.WriteFile(p, []byte(text), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if _, err := w.Poll(ctx); err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
	}
	w.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("batches = %v, want one batch with one event", batches)
	}
	if ev := batches[0][0]; ev.Type != EventModify || ev.URI != paths.URIFromPath(p) {
		t.Errorf("event = %s %s, want modify a.r", ev.Type, ev.URI)
	}
	if got := w.Stats()["mergedEvents"]; got != 1 {
		t.Errorf("stats[mergedEvents] = %v, want 1", got)
	}
}

type fakeTarget struct {
	mu      sync.Mutex
	changed []string
	deleted []string
	err     error
}

func (f *fakeTarget) OnFileChangedOnDisk(uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, uri)
	return f.err
}

func (f *fakeTarget) OnFileDeleted(uri string) []*revalidate.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, uri)
	return nil
}

func TestDispatch(t *testing.T) {
	target := &fakeTarget{err: errors.New("queue full")}
	handler := Dispatch(target, discard())
	handler([]Event{
		{Type: EventCreate, URI: "a"},
		{Type: EventModify, URI: "b"},
		{Type: EventDelete, URI: "c"},
	})

	if len(target.changed) != 2 || target.changed[0] != "a" || target.changed[1] != "b" {
		t.Errorf("changed = %v, want [a b]", target.changed)
	}
	if len(target.deleted) != 1 || target.deleted[0] != "c" {
		t.Errorf("deleted = %v, want [c]", target.deleted)
	}
}

func TestStopWithoutStart(t *testing.T) {
	w := New(t.TempDir(), DefaultConfig(), discard(), nil)
	w.Stop()
}

func TestBatcherCoalescesPerFile(t *testing.T) {
	var got []Event
	b := NewBatcher(time.Hour, func(events []Event) { got = events })

	b.Add(Event{Type: EventCreate, URI: "x"})
	b.Add(Event{Type: EventModify, URI: "y"})
	b.Add(Event{Type: EventModify, URI: "x"})
	b.Add(Event{Type: EventDelete, URI: "y"})

	if b.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", b.Pending())
	}
	if b.Merged() != 2 {
		t.Errorf("Merged() = %d, want 2", b.Merged())
	}
	b.Flush()

	if len(got) != 2 {
		t.Fatalf("emitted %d events, want 2", len(got))
	}
	if got[0].URI != "x" || got[0].Type != EventModify {
		t.Errorf("got[0] = %s %s, want modify x", got[0].Type, got[0].URI)
	}
	if got[1].URI != "y" || got[1].Type != EventDelete {
		t.Errorf("got[1] = %s %s, want delete y", got[1].Type, got[1].URI)
	}
}

func TestBatcherEmitsAfterQuietPeriod(t *testing.T) {
	var received []Event
	var mu sync.Mutex

	b := NewBatcher(50*time.Millisecond, func(events []Event) {
		mu.Lock()
		received = events
		mu.Unlock()
	})

	b.Add(Event{Type: EventCreate, URI: "file1.r"})
	b.Add(Event{Type: EventModify, URI: "file2.r"})
	b.Add(Event{Type: EventDelete, URI: "file3.r"})

	if b.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", b.Pending())
	}

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	if len(received) != 3 {
		t.Errorf("received %d events, want 3", len(received))
	}
	mu.Unlock()
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after emission", b.Pending())
	}
}

func TestBatcherCancel(t *testing.T) {
	var called bool
	var mu sync.Mutex

	b := NewBatcher(50*time.Millisecond, func(events []Event) {
		mu.Lock()
		called = true
		mu.Unlock()
	})
	b.Add(Event{Type: EventCreate, URI: "file.r"})
	b.Cancel()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	if called {
		t.Error("emit called after Cancel")
	}
	mu.Unlock()

	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after cancel", b.Pending())
	}

	// a cancelled file starts a fresh batch entry
	b.Add(Event{Type: EventModify, URI: "file.r"})
	if b.Merged() != 0 {
		t.Errorf("Merged() = %d, want 0", b.Merged())
	}
	b.Cancel()
}

func TestBatcherFlushEmpty(t *testing.T) {
	called := false
	b := NewBatcher(10*time.Millisecond, func(events []Event) { called = true })
	b.Flush()

	if called {
		t.Error("emit called with no events")
	}
}
