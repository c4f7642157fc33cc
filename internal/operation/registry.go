// Package operation provides the registry that tracks every in-flight
// asynchronous unit of work in the movierec engine.
//
// The registry owns the operation map exclusively: all mutation happens
// through its public methods, every operation carries exactly one timeout
// timer, and lifecycle transitions are strictly loading -> terminal, applied
// at most once per operation.
package operation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/movierec/movierec/internal/models"
	"github.com/movierec/movierec/internal/util"
)

// Default configuration constants
const (
	// DefaultTimeout is applied when a caller does not specify a deadline.
	DefaultTimeout = 30 * time.Second
	// DefaultRemovalGracePeriod is how long a terminal operation stays
	// observable before it is removed from the registry.
	DefaultRemovalGracePeriod = 30 * time.Second
	// DefaultRecentErrorLimit caps the recent-errors ring in aggregated state.
	DefaultRecentErrorLimit = 10
)

// Opts holds registry configuration.
type Opts struct {
	DefaultTimeout     time.Duration
	RemovalGracePeriod time.Duration
	RecentErrorLimit   int
}

// Option configures the registry.
type Option func(*Opts)

// WithDefaultTimeout overrides the default operation deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Opts) { o.DefaultTimeout = d }
}

// WithRemovalGracePeriod overrides how long terminal operations remain observable.
func WithRemovalGracePeriod(d time.Duration) Option {
	return func(o *Opts) { o.RemovalGracePeriod = d }
}

// WithRecentErrorLimit overrides the recent-errors ring size.
func WithRecentErrorLimit(n int) Option {
	return func(o *Opts) { o.RecentErrorLimit = n }
}

// StartOptions configure a single tracked operation.
type StartOptions struct {
	Priority models.Priority
	Owner    string
	Timeout  time.Duration
	Metadata map[string]string
}

// tracked pairs an operation snapshot with its live timers. The timeout timer
// is armed exactly once at start and stopped exactly once on any terminal
// transition; the removal timer exists only after a terminal transition.
type tracked struct {
	op           models.Operation
	timeoutTimer *time.Timer
	removalTimer *time.Timer
}

// Subscriber is notified with aggregated registry state: once immediately on
// subscription and again after every state change. Callbacks run on the
// goroutine that caused the change and must not block.
type Subscriber func(models.AggregatedState)

// Registry is the authoritative store of in-flight and recently finished
// operations. Construct with NewRegistry and inject it where needed; it is
// safe for concurrent use.
type Registry struct {
	mu           sync.Mutex
	ops          map[string]*tracked
	subscribers  map[string]Subscriber
	watchers     map[string][]func(models.Operation)
	recentErrors []models.OperationError
	opts         Opts
}

// NewRegistry creates an operation registry.
func NewRegistry(options ...Option) *Registry {
	opts := Opts{
		DefaultTimeout:     DefaultTimeout,
		RemovalGracePeriod: DefaultRemovalGracePeriod,
		RecentErrorLimit:   DefaultRecentErrorLimit,
	}
	for _, opt := range options {
		opt(&opts)
	}
	slog.Debug("Registry.NewRegistry: creating registry",
		"defaultTimeout", opts.DefaultTimeout, "removalGrace", opts.RemovalGracePeriod)
	return &Registry{
		ops:         make(map[string]*tracked),
		subscribers: make(map[string]Subscriber),
		watchers:    make(map[string][]func(models.Operation)),
		opts:        opts,
	}
}

// Start registers a new operation in loading state, arms its timeout timer,
// and notifies subscribers. It returns the generated operation ID.
func (r *Registry) Start(opType models.OperationType, options StartOptions) string {
	if !models.IsValidOperationType(opType) {
		slog.Warn("Registry.Start: unrecognized operation type", "type", opType)
	}

	id := util.GenerateOperationID()
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	priority := options.Priority
	if priority == 0 {
		priority = models.PriorityNormal
	}

	entry := &tracked{
		op: models.Operation{
			ID:        id,
			Type:      opType,
			State:     models.OperationStateLoading,
			Priority:  priority,
			Owner:     options.Owner,
			Metadata:  options.Metadata,
			StartedAt: time.Now(),
			Timeout:   timeout,
		},
	}
	entry.timeoutTimer = time.AfterFunc(timeout, func() {
		r.onTimeout(id)
	})

	r.mu.Lock()
	r.ops[id] = entry
	agg := r.aggregateLocked()
	subs := r.subscriberListLocked()
	r.mu.Unlock()

	slog.Debug("Registry.Start: operation started",
		"id", id, "type", opType, "priority", priority, "owner", options.Owner, "timeout", timeout)
	notify(subs, agg)
	return id
}

// Complete transitions an operation from loading to success. Unknown or
// already-terminal IDs are logged and ignored.
func (r *Registry) Complete(id string, result interface{}) {
	r.finish(id, models.OperationStateSuccess, "", result)
}

// Fail transitions an operation from loading to error. Unknown or
// already-terminal IDs are logged and ignored.
func (r *Registry) Fail(id string, err error) {
	msg := "operation failed"
	if err != nil {
		msg = err.Error()
	}
	r.finish(id, models.OperationStateError, msg, nil)
}

// onTimeout force-transitions a still-loading operation to timeout with a
// synthetic error. If the operation already reached a terminal state the
// deadline firing is a no-op.
func (r *Registry) onTimeout(id string) {
	r.finish(id, models.OperationStateTimeout, models.ErrOperationTimeout.Error(), nil)
}

// finish applies the single forward transition of the operation state machine.
// Stopping the timeout timer and recording the terminal state happen under one
// lock acquisition, so a natural completion and a timeout can never both take
// effect for the same operation.
func (r *Registry) finish(id string, state models.OperationState, errMsg string, result interface{}) {
	r.mu.Lock()
	entry, ok := r.ops[id]
	if !ok {
		r.mu.Unlock()
		slog.Warn("Registry.finish: unknown operation id", "id", id, "state", state)
		return
	}
	if entry.op.State.IsTerminal() {
		r.mu.Unlock()
		slog.Warn("Registry.finish: operation already terminal",
			"id", id, "currentState", entry.op.State, "requestedState", state)
		return
	}

	entry.timeoutTimer.Stop()
	now := time.Now()
	entry.op.State = state
	entry.op.EndedAt = now
	entry.op.Duration = now.Sub(entry.op.StartedAt)
	entry.op.Error = errMsg
	entry.op.Result = result

	if state == models.OperationStateError || state == models.OperationStateTimeout {
		r.recordErrorLocked(entry.op)
	}

	// Keep the terminal operation observable for late subscribers, then drop it.
	entry.removalTimer = time.AfterFunc(r.opts.RemovalGracePeriod, func() {
		r.remove(id)
	})

	snapshot := entry.op
	watchers := r.watchers[id]
	delete(r.watchers, id)
	agg := r.aggregateLocked()
	subs := r.subscriberListLocked()
	r.mu.Unlock()

	slog.Debug("Registry.finish: operation finished",
		"id", id, "type", snapshot.Type, "state", state, "duration", snapshot.Duration, "error", errMsg)
	for _, watcher := range watchers {
		watcher(snapshot)
	}
	notify(subs, agg)
}

// remove deletes a terminal operation after its grace period.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	entry, ok := r.ops[id]
	if ok && entry.op.State.IsTerminal() {
		delete(r.ops, id)
	}
	r.mu.Unlock()
	if ok {
		slog.Debug("Registry.remove: operation removed after grace period", "id", id)
	}
}

// ClearOwner force-terminates and removes every operation belonging to owner,
// releasing its timers. Used on component teardown to prevent leaks. Watchers
// of cleared operations fire with the forced-error snapshot so coordinated
// work does not hang.
func (r *Registry) ClearOwner(owner string) {
	r.mu.Lock()
	var cleared []models.Operation
	var fired [][]func(models.Operation)
	for id, entry := range r.ops {
		if entry.op.Owner != owner {
			continue
		}
		entry.timeoutTimer.Stop()
		if entry.removalTimer != nil {
			entry.removalTimer.Stop()
		}
		if !entry.op.State.IsTerminal() {
			now := time.Now()
			entry.op.State = models.OperationStateError
			entry.op.EndedAt = now
			entry.op.Duration = now.Sub(entry.op.StartedAt)
			entry.op.Error = "operation cleared: owner torn down"
		}
		cleared = append(cleared, entry.op)
		fired = append(fired, r.watchers[id])
		delete(r.watchers, id)
		delete(r.ops, id)
	}
	agg := r.aggregateLocked()
	subs := r.subscriberListLocked()
	r.mu.Unlock()

	if len(cleared) == 0 {
		slog.Debug("Registry.ClearOwner: no operations for owner", "owner", owner)
		return
	}
	slog.Info("Registry.ClearOwner: cleared operations", "owner", owner, "count", len(cleared))
	for i, snapshot := range cleared {
		for _, watcher := range fired[i] {
			watcher(snapshot)
		}
	}
	notify(subs, agg)
}

// Subscribe registers a callback for aggregated state changes and returns an
// unsubscribe function. The callback is invoked once immediately with the
// current aggregated state.
func (r *Registry) Subscribe(cb Subscriber) func() {
	token := uuid.NewString()
	r.mu.Lock()
	r.subscribers[token] = cb
	agg := r.aggregateLocked()
	r.mu.Unlock()

	slog.Debug("Registry.Subscribe: subscriber added", "token", token)
	cb(agg)
	return func() {
		r.mu.Lock()
		delete(r.subscribers, token)
		r.mu.Unlock()
		slog.Debug("Registry.Subscribe: subscriber removed", "token", token)
	}
}

// WatchOperation registers a one-shot callback for an operation's terminal
// transition. If the operation is unknown or already terminal the callback is
// invoked immediately with the best available snapshot, so callers gating work
// on an operation never wait forever.
func (r *Registry) WatchOperation(id string, cb func(models.Operation)) {
	r.mu.Lock()
	entry, ok := r.ops[id]
	if ok && !entry.op.State.IsTerminal() {
		r.watchers[id] = append(r.watchers[id], cb)
		r.mu.Unlock()
		slog.Debug("Registry.WatchOperation: watcher registered", "id", id)
		return
	}
	var snapshot models.Operation
	if ok {
		snapshot = entry.op
	} else {
		snapshot = models.Operation{ID: id, State: models.OperationStateIdle}
	}
	r.mu.Unlock()

	slog.Debug("Registry.WatchOperation: firing watcher immediately",
		"id", id, "known", ok, "state", snapshot.State)
	cb(snapshot)
}

// Get returns a snapshot of a tracked operation.
func (r *Registry) Get(id string) (models.Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.ops[id]
	if !ok {
		return models.Operation{}, false
	}
	return entry.op, true
}

// AggregatedState returns the current aggregated busy/error summary.
func (r *Registry) AggregatedState() models.AggregatedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aggregateLocked()
}

// recordErrorLocked appends to the recent-errors ring. Caller must hold r.mu.
func (r *Registry) recordErrorLocked(op models.Operation) {
	r.recentErrors = append(r.recentErrors, models.OperationError{
		OperationID: op.ID,
		Type:        op.Type,
		State:       op.State,
		Message:     op.Error,
		OccurredAt:  op.EndedAt,
	})
	if len(r.recentErrors) > r.opts.RecentErrorLimit {
		r.recentErrors = r.recentErrors[len(r.recentErrors)-r.opts.RecentErrorLimit:]
	}
}

// aggregateLocked computes aggregated state. Caller must hold r.mu.
func (r *Registry) aggregateLocked() models.AggregatedState {
	agg := models.AggregatedState{
		RecentErrors: append([]models.OperationError(nil), r.recentErrors...),
	}
	for _, entry := range r.ops {
		if entry.op.State != models.OperationStateLoading {
			continue
		}
		agg.Busy = true
		agg.ActiveCount++
		if entry.op.Priority > agg.HighestActivePriority {
			agg.HighestActivePriority = entry.op.Priority
		}
		if entry.op.Priority >= models.HighPriorityThreshold {
			agg.HighPriorityActive = true
		}
	}
	return agg
}

// subscriberListLocked copies the subscriber list. Caller must hold r.mu.
func (r *Registry) subscriberListLocked() []Subscriber {
	subs := make([]Subscriber, 0, len(r.subscribers))
	for _, cb := range r.subscribers {
		subs = append(subs, cb)
	}
	return subs
}

// notify fans aggregated state out to subscribers outside the registry lock.
func notify(subs []Subscriber, agg models.AggregatedState) {
	for _, cb := range subs {
		cb(agg)
	}
}
