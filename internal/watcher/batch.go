package watcher

import (
	"sync"
	"time"
)

// Batcher collects disk events until delay passes without a new one and
// then emits them as one batch. A file appears at most once per batch:
// a later event for the same uri replaces the earlier one in place, so the
// batch keeps first-seen order and last-event-wins types.
type Batcher struct {
	delay time.Duration
	emit  func([]Event)

	mu      sync.Mutex
	timer   *time.Timer
	pending []Event
	byURI   map[string]int
	merged  int
}

// NewBatcher creates a batcher handing batches to emit.
func NewBatcher(delay time.Duration, emit func([]Event)) *Batcher {
	return &Batcher{
		delay: delay,
		emit:  emit,
		byURI: make(map[string]int),
	}
}

// Add queues ev and restarts the quiet period.
func (b *Batcher) Add(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i, ok := b.byURI[ev.URI]; ok {
		b.pending[i] = ev
		b.merged++
	} else {
		b.byURI[ev.URI] = len(b.pending)
		b.pending = append(b.pending, ev)
	}

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.flush)
}

// takeLocked empties the batch. Callers hold mu.
func (b *Batcher) takeLocked() []Event {
	events := b.pending
	b.pending = nil
	b.byURI = make(map[string]int)
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return events
}

func (b *Batcher) flush() {
	b.mu.Lock()
	events := b.takeLocked()
	b.mu.Unlock()

	if len(events) > 0 && b.emit != nil {
		b.emit(events)
	}
}

// Cancel drops the pending batch without emitting it.
func (b *Batcher) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.takeLocked()
}

// Flush emits the pending batch now.
func (b *Batcher) Flush() {
	b.flush()
}

// Pending returns the number of files in the pending batch.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Merged returns how many events were folded into an earlier one for the
// same file.
func (b *Batcher) Merged() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.merged
}
