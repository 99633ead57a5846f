package revalidate

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"rscope/internal/diagnostics"
	"rscope/internal/slogutil"
)

// TaskState is the lifecycle of one pending revalidation.
type TaskState int32

const (
	TaskScheduled TaskState = iota
	TaskDebouncing
	TaskCancelled
	TaskSuperseded
	TaskPublished
)

func (s TaskState) String() string {
	switch s {
	case TaskScheduled:
		return "scheduled"
	case TaskDebouncing:
		return "debouncing"
	case TaskCancelled:
		return "cancelled"
	case TaskSuperseded:
		return "superseded"
	case TaskPublished:
		return "published"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the task has finished.
func (s TaskState) IsTerminal() bool {
	return s >= TaskCancelled
}

// Task is one scheduled revalidation of one document.
type Task struct {
	ID        string
	URI       string
	Trigger   string
	Version   int32
	Priority  int
	Force     bool
	CreatedAt time.Time

	ticket *Ticket
	state  atomic.Int32
	done   chan struct{}
}

// State returns the current lifecycle state.
func (t *Task) State() TaskState {
	return TaskState(t.state.Load())
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) setState(s TaskState) {
	t.state.Store(int32(s))
}

// Request asks for one document to be revalidated. Force permits a
// republish at the already published version.
type Request struct {
	URI   string
	Force bool
}

// Config controls debouncing and the per-trigger cap.
type Config struct {
	Debounce      time.Duration
	MaxPerTrigger int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Debounce:      200 * time.Millisecond,
		MaxPerTrigger: 10,
	}
}

// Hooks connect the scheduler to the documents it serves.
type Hooks struct {
	// Version returns the current version of an open document, false when
	// it is not open.
	Version func(uri string) (int32, bool)
	// Compute produces fresh diagnostics for uri.
	Compute func(ctx context.Context, uri string) []diagnostics.Diagnostic
	// Publish delivers diagnostics. It is called under the publish gate.
	Publish func(uri string, version int32, diags []diagnostics.Diagnostic)
}

// Scheduler runs debounced, cancellable revalidations.
type Scheduler struct {
	config   Config
	hooks    Hooks
	state    *State
	gate     *Gate
	activity *Activity
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	scheduled  atomic.Int64
	cancelled  atomic.Int64
	superseded atomic.Int64
	published  atomic.Int64
	dropped    atomic.Int64
}

// NewScheduler creates a scheduler. A nil activity tracker ranks every
// document other than the trigger equally.
func NewScheduler(config Config, hooks Hooks, activity *Activity, logger *slog.Logger) *Scheduler {
	if config.Debounce < 0 {
		config.Debounce = 0
	}
	if config.MaxPerTrigger <= 0 {
		config.MaxPerTrigger = DefaultConfig().MaxPerTrigger
	}
	if activity == nil {
		activity = NewActivity(DefaultMaxRecent)
	}
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:   config,
		hooks:    hooks,
		state:    NewState(ctx),
		gate:     NewGate(),
		activity: activity,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Gate returns the publish gate.
func (s *Scheduler) Gate() *Gate {
	return s.gate
}

// Activity returns the activity tracker used for priorities.
func (s *Scheduler) Activity() *Activity {
	return s.activity
}

// Trigger schedules the requested documents on behalf of trigger. Documents
// that are not open are skipped. When more documents remain than the cap
// allows, the lowest-priority ones are dropped for this trigger. The
// returned tasks are ordered by priority.
func (s *Scheduler) Trigger(trigger string, reqs []Request) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	byURI := make(map[string]*Task, len(reqs))
	var tasks []*Task
	for _, r := range reqs {
		if t, ok := byURI[r.URI]; ok {
			t.Force = t.Force || r.Force
			continue
		}
		version, open := s.version(r.URI)
		if !open {
			continue
		}
		t := &Task{
			URI:       r.URI,
			Trigger:   trigger,
			Version:   version,
			Priority:  s.activity.Priority(r.URI, trigger),
			Force:     r.Force,
			CreatedAt: time.Now(),
			done:      make(chan struct{}),
		}
		byURI[r.URI] = t
		tasks = append(tasks, t)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		return tasks[i].URI < tasks[j].URI
	})
	if len(tasks) > s.config.MaxPerTrigger {
		dropped := tasks[s.config.MaxPerTrigger:]
		tasks = tasks[:s.config.MaxPerTrigger]
		s.dropped.Add(int64(len(dropped)))
		s.logger.Debug("Revalidation cap reached",
			"trigger", trigger,
			"kept", len(tasks),
			"dropped", len(dropped),
		)
	}

	for _, t := range tasks {
		if t.Force {
			s.gate.MarkForce(t.URI)
		}
		t.ticket = s.state.Schedule(t.URI)
		t.ID = t.ticket.ID
		s.scheduled.Add(1)
		s.wg.Add(1)
		go s.run(t)
	}
	return tasks
}

func (s *Scheduler) version(uri string) (int32, bool) {
	if s.hooks.Version == nil {
		return 0, false
	}
	return s.hooks.Version(uri)
}

func (s *Scheduler) run(t *Task) {
	defer s.wg.Done()
	defer close(t.done)
	defer s.state.Complete(t.ticket)

	ctx := t.ticket.Context()
	t.setState(TaskDebouncing)

	timer := time.NewTimer(s.config.Debounce)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.abandon(t)
		return
	case <-timer.C:
	}
	if ctx.Err() != nil {
		s.abandon(t)
		return
	}

	version, open := s.version(t.URI)
	if !open || version < t.Version {
		s.supersede(t, "document closed or older than trigger")
		return
	}

	var diags []diagnostics.Diagnostic
	if s.hooks.Compute != nil {
		diags = s.hooks.Compute(ctx, t.URI)
	}
	if ctx.Err() != nil {
		s.abandon(t)
		return
	}

	ok := s.gate.TryPublish(t.URI, version, func() bool {
		if ctx.Err() != nil {
			return false
		}
		if cur, open := s.version(t.URI); !open || cur != version {
			return false
		}
		if s.hooks.Publish != nil {
			s.hooks.Publish(t.URI, version, diags)
		}
		return true
	})
	switch {
	case ok:
		t.setState(TaskPublished)
		s.published.Add(1)
		s.logger.Debug("Published diagnostics",
			"uri", t.URI,
			"version", version,
			"diagnostics", len(diags),
			"trigger", t.Trigger,
		)
	case ctx.Err() != nil:
		s.abandon(t)
	default:
		s.supersede(t, "publish gate refused version")
	}
}

func (s *Scheduler) abandon(t *Task) {
	t.setState(TaskCancelled)
	s.cancelled.Add(1)
	s.logger.Log(context.Background(), slogutil.LevelTrace, "Revalidation cancelled",
		"uri", t.URI,
		"task", t.ID,
		"cause", context.Cause(t.ticket.Context()),
	)
}

func (s *Scheduler) supersede(t *Task, reason string) {
	t.setState(TaskSuperseded)
	s.superseded.Add(1)
	s.logger.Log(context.Background(), slogutil.LevelTrace, "Revalidation superseded",
		"uri", t.URI,
		"task", t.ID,
		"reason", reason,
	)
}

// Forget cancels any pending revalidation of uri and drops its publish
// and activity state.
func (s *Scheduler) Forget(uri string) {
	s.state.Cancel(uri)
	s.gate.Clear(uri)
	s.activity.Remove(uri)
}

// IsPending reports whether uri has a revalidation in flight.
func (s *Scheduler) IsPending(uri string) bool {
	return s.state.IsPending(uri)
}

// Wait blocks until every started task has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every pending task and waits for them to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	n := s.state.CancelAll()
	s.cancel()
	s.wg.Wait()
	s.logger.Debug("Revalidation scheduler closed", "cancelled", n)
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() map[string]interface{} {
	return map[string]interface{}{
		"scheduled":  s.scheduled.Load(),
		"cancelled":  s.cancelled.Load(),
		"superseded": s.superseded.Load(),
		"published":  s.published.Load(),
		"dropped":    s.dropped.Load(),
		"pending":    s.state.Pending(),
	}
}
