package progress

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/karaforge/karaforge/internal/models"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
)

// Common errors.
var (
	// ErrJobExists is returned when registering an already-tracked job.
	ErrJobExists = errors.New("job is already tracked")
	// ErrJobNotFound is returned when the job is not tracked.
	ErrJobNotFound = errors.New("job not found")
)

// TaskHandle lets the owner of a job cancel it and wait for it to finish.
type TaskHandle struct {
	jobID  string
	cancel func()
	done   chan struct{}
}

// JobID returns the tracked job's identifier.
func (h *TaskHandle) JobID() string {
	return h.jobID
}

// Cancel requests cancellation of the job's pipeline context.
func (h *TaskHandle) Cancel() {
	h.cancel()
}

// Done is closed once the job reaches a terminal state.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Subscriber receives events for one job. The channel is buffered; events
// are dropped rather than blocking the pipeline when a consumer stalls.
type Subscriber struct {
	ID     string
	JobID  string
	Events chan *Event
}

// Registry tracks the live progress of all jobs and broadcasts changes.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	handles     map[string]*TaskHandle
	subscribers map[string]*Subscriber
	logger      *slog.Logger

	ttl     time.Duration
	cleanup *cron.Cron
}

// NewRegistry creates a registry retaining terminal entries for ttl.
func NewRegistry(logger *slog.Logger, ttl time.Duration) *Registry {
	return &Registry{
		entries:     make(map[string]*Entry),
		handles:     make(map[string]*TaskHandle),
		subscribers: make(map[string]*Subscriber),
		logger:      logger.With("component", "progress_registry"),
		ttl:         ttl,
	}
}

// StartCleanup schedules periodic removal of expired terminal entries.
func (r *Registry) StartCleanup(interval time.Duration) error {
	c := cron.New()
	_, err := c.AddFunc("@every "+interval.String(), r.removeExpired)
	if err != nil {
		return err
	}
	c.Start()
	r.cleanup = c
	return nil
}

// Stop halts the cleanup schedule.
func (r *Registry) Stop() {
	if r.cleanup != nil {
		r.cleanup.Stop()
	}
}

// removeExpired drops terminal entries whose completion time is past TTL.
func (r *Registry) removeExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.ttl)
	removed := 0
	for jobID, e := range r.entries {
		if e.State.IsTerminal() && e.CompletedAt != nil && e.CompletedAt.Before(cutoff) {
			delete(r.entries, jobID)
			delete(r.handles, jobID)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("removed expired job entries", "count", removed)
	}
}

// Register begins tracking a job and returns its cancellation handle.
// The cancel function is invoked when Cancel or CancelAll fires.
func (r *Registry) Register(jobID string, cancel func()) (*TaskHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[jobID]; ok && !existing.State.IsTerminal() {
		return nil, ErrJobExists
	}

	now := time.Now()
	entry := &Entry{
		JobID:     jobID,
		State:     StateRunning,
		Progress:  0,
		StartedAt: now,
		UpdatedAt: now,
	}
	handle := &TaskHandle{
		jobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.entries[jobID] = entry
	r.handles[jobID] = handle

	r.logger.Debug("job registered", "job_id", jobID)
	r.broadcastLocked(entry, false)
	return handle, nil
}

// Snapshot returns a copy of the job's current entry.
func (r *Registry) Snapshot(jobID string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return e.Clone(), nil
}

// List returns a snapshot of every tracked entry.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Clone())
	}
	return out
}

// Update reports step progress for a job. The progress value is on the
// global 0..100 scale and is clamped. Updates are ignored once the job is
// terminal, and exact duplicates (same step, progress, and message) are
// suppressed to keep the event stream quiet.
func (r *Registry) Update(jobID, step string, percent float64, message string, stepStart bool) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if !ok || e.State.IsTerminal() {
		return
	}
	if e.Step == step && e.Progress == percent && e.Message == message && !stepStart {
		return
	}
	// The global scale never moves backwards within a run.
	if percent < e.Progress {
		percent = e.Progress
	}

	e.Step = step
	e.Progress = percent
	e.Message = message
	e.UpdatedAt = time.Now()

	r.broadcastLocked(e, stepStart)
}

// Complete marks a job as finished with its terminal result payload.
func (r *Registry) Complete(jobID string, result *models.JobResult) {
	r.finish(jobID, StateCompleted, "", result)
}

// Fail marks a job as failed. A terminal error overrides a completed state
// so late pipeline failures are never masked.
func (r *Registry) Fail(jobID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.finish(jobID, StateError, msg, nil)
}

// MarkCancelled marks a job as cancelled.
func (r *Registry) MarkCancelled(jobID string) {
	r.finish(jobID, StateCancelled, "", nil)
}

func (r *Registry) finish(jobID string, state State, errMsg string, result *models.JobResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if !ok {
		return
	}
	if e.State.IsTerminal() && !(e.State == StateCompleted && state == StateError) {
		return
	}

	now := time.Now()
	e.State = state
	e.UpdatedAt = now
	e.CompletedAt = &now
	switch state {
	case StateCompleted:
		e.Progress = 100
		e.Message = "Completed"
		e.Result = result
	case StateError:
		e.Error = errMsg
		e.Message = errMsg
	case StateCancelled:
		e.Message = "Cancelled"
	}

	if h, ok := r.handles[jobID]; ok {
		select {
		case <-h.done:
		default:
			close(h.done)
		}
	}

	r.logger.Debug("job finished", "job_id", jobID, "state", string(state))
	r.broadcastLocked(e, false)
}

// Cancel fires the job's cancel function. The entry moves to cancelled
// once the pipeline observes the context and reports back.
func (r *Registry) Cancel(jobID string) error {
	r.mu.RLock()
	h, ok := r.handles[jobID]
	var terminal bool
	if e, found := r.entries[jobID]; found {
		terminal = e.State.IsTerminal()
	}
	r.mu.RUnlock()

	if !ok {
		return ErrJobNotFound
	}
	if terminal {
		return nil
	}
	h.Cancel()
	return nil
}

// CancelAll fires every active job's cancel function, typically during
// server shutdown.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	handles := make([]*TaskHandle, 0, len(r.handles))
	for jobID, h := range r.handles {
		if e, ok := r.entries[jobID]; ok && !e.State.IsTerminal() {
			handles = append(handles, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Subscribe creates a subscriber for one job's events.
func (r *Registry) Subscribe(jobID string) *Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		JobID:  jobID,
		Events: make(chan *Event, 100),
	}
	r.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (r *Registry) Unsubscribe(subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(r.subscribers, subscriberID)
	}
}

// broadcastLocked delivers an event snapshot to matching subscribers.
// Must be called with r.mu held.
func (r *Registry) broadcastLocked(e *Entry, stepStart bool) {
	event := &Event{
		EventID:   ulid.Make().String(),
		Type:      eventTypeForState(e.State),
		Entry:     e.Clone(),
		StepStart: stepStart,
		Timestamp: time.Now(),
	}

	for _, sub := range r.subscribers {
		if sub.JobID != "" && sub.JobID != e.JobID {
			continue
		}
		select {
		case sub.Events <- event:
		default:
			r.logger.Warn("subscriber channel full, dropping event",
				"subscriber_id", sub.ID,
				"job_id", e.JobID,
			)
		}
	}
}
