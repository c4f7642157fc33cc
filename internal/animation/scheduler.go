// Package animation provides the priority-ordered scheduler that serializes
// and throttles visual transitions.
//
// The scheduler owns its queue exclusively: requests enter through Enqueue,
// leave through Cancel or the processing loop, and the number of running
// requests never exceeds the configured concurrency ceiling. Ordering among
// queued requests is strictly priority-descending with FIFO ties.
package animation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/movierec/movierec/internal/models"
	"github.com/movierec/movierec/internal/operation"
	"github.com/movierec/movierec/internal/util"
)

// Func is one visual transition. It should honor ctx cancellation, but the
// scheduler does not rely on it doing so: cancellation of running work is
// best-effort bookkeeping.
type Func func(ctx context.Context) error

// ErrCancelled is returned to waiters of a cancelled animation request.
var ErrCancelled = errors.New("animation request cancelled")

// Default configuration constants
const (
	// DefaultConcurrencyCeiling is the maximum number of simultaneously
	// running animations.
	DefaultConcurrencyCeiling = 2
	// DefaultShedThreshold is the number of running animations above which
	// degraded frame timing triggers load shedding.
	DefaultShedThreshold = 1
)

// Opts holds scheduler configuration.
type Opts struct {
	Ceiling       int
	ShedThreshold int
	Motion        MotionSignal
	Frames        FrameSampler
	Registry      *operation.Registry
}

// Option configures the scheduler.
type Option func(*Opts)

// WithConcurrency sets the concurrency ceiling.
func WithConcurrency(n int) Option {
	return func(o *Opts) { o.Ceiling = n }
}

// WithShedThreshold sets how many animations may run before degraded frame
// timing starts cancelling low-priority work.
func WithShedThreshold(n int) Option {
	return func(o *Opts) { o.ShedThreshold = n }
}

// WithMotionSignal wires the environment motion-preference signal.
func WithMotionSignal(m MotionSignal) Option {
	return func(o *Opts) { o.Motion = m }
}

// WithFrameSampler wires frame-time sampling for adaptive throttling.
func WithFrameSampler(f FrameSampler) Option {
	return func(o *Opts) { o.Frames = f }
}

// WithRegistry wires the operation registry so requests can coordinate with
// operation terminal transitions.
func WithRegistry(r *operation.Registry) Option {
	return func(o *Opts) { o.Registry = r }
}

// Options configure a single enqueued request.
type Options struct {
	Priority models.Priority
	Owner    string
	Delay    time.Duration
	// Force runs the animation even under reduced motion.
	Force bool
	// CoordinateWithOperation delays scheduling until the named operation
	// reaches a terminal state.
	CoordinateWithOperation string
}

// Handle lets the caller await a request's completion.
type Handle struct {
	id   string
	done chan struct{}

	mu     sync.Mutex
	err    error
	status models.AnimationStatus
}

// ID returns the request ID.
func (h *Handle) ID() string { return h.id }

// Done is closed when the request reaches a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the terminal error, if any. Valid after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Status returns the request's current status.
func (h *Handle) Status() models.AnimationStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Wait blocks until the request finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// request is the scheduler's internal view of one queued or running transition.
type request struct {
	handle     *Handle
	fn         Func
	priority   models.Priority
	owner      string
	delay      time.Duration
	force      bool
	coordinate string
	seq        uint64
	gateOpen   bool
	enqueuedAt time.Time
	eligibleAt time.Time
	startedAt  time.Time
	endedAt    time.Time
	errMsg     string
	cancelRun  context.CancelFunc
}

// Scheduler is the animation scheduler. Construct with NewScheduler, start the
// processing loop with Run, and inject the instance where needed.
type Scheduler struct {
	mu      sync.Mutex
	queue   []*request
	running map[string]*request
	ids     map[string]*request
	seq     uint64
	wake    chan struct{}
	opts    Opts
}

// NewScheduler creates an animation scheduler.
func NewScheduler(options ...Option) *Scheduler {
	opts := Opts{
		Ceiling:       DefaultConcurrencyCeiling,
		ShedThreshold: DefaultShedThreshold,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = DefaultConcurrencyCeiling
	}
	slog.Debug("Scheduler.NewScheduler: creating animation scheduler",
		"ceiling", opts.Ceiling, "shedThreshold", opts.ShedThreshold,
		"hasMotion", opts.Motion != nil, "hasFrames", opts.Frames != nil)
	return &Scheduler{
		running: make(map[string]*request),
		ids:     make(map[string]*request),
		wake:    make(chan struct{}, 1),
		opts:    opts,
	}
}

// Enqueue adds a visual-transition request. The returned handle resolves when
// the request reaches a terminal status. Under reduced motion, non-forced
// requests resolve immediately without executing fn, preserving completion
// semantics while skipping visual work.
func (s *Scheduler) Enqueue(id string, fn Func, options Options) (*Handle, error) {
	if fn == nil {
		return nil, fmt.Errorf("animation function is required")
	}
	if id == "" {
		id = util.GenerateAnimationID()
	}
	priority := options.Priority
	if priority == 0 {
		priority = models.PriorityNormal
	}

	handle := &Handle{id: id, done: make(chan struct{}), status: models.AnimationStatusQueued}

	// Duplicate ids are rejected on every path, including the reduced-motion
	// short-circuit below.
	s.mu.Lock()
	_, exists := s.ids[id]
	s.mu.Unlock()
	if exists {
		slog.Warn("Scheduler.Enqueue: duplicate request id", "id", id)
		return nil, fmt.Errorf("animation request %s already tracked", id)
	}

	if s.opts.Motion != nil && s.opts.Motion.ReducedMotion() && !options.Force {
		handle.mu.Lock()
		handle.status = models.AnimationStatusCompleted
		handle.mu.Unlock()
		close(handle.done)
		slog.Debug("Scheduler.Enqueue: reduced motion, resolving without animating", "id", id)
		return handle, nil
	}

	now := time.Now()
	req := &request{
		handle:     handle,
		fn:         fn,
		priority:   priority,
		owner:      options.Owner,
		delay:      options.Delay,
		force:      options.Force,
		coordinate: options.CoordinateWithOperation,
		gateOpen:   options.CoordinateWithOperation == "",
		enqueuedAt: now,
		eligibleAt: now.Add(options.Delay),
	}

	s.mu.Lock()
	if _, exists := s.ids[id]; exists {
		s.mu.Unlock()
		slog.Warn("Scheduler.Enqueue: duplicate request id", "id", id)
		return nil, fmt.Errorf("animation request %s already tracked", id)
	}
	s.seq++
	req.seq = s.seq
	s.ids[id] = req
	s.queue = append(s.queue, req)
	s.mu.Unlock()

	if req.coordinate != "" {
		if s.opts.Registry == nil {
			slog.Warn("Scheduler.Enqueue: coordination requested without registry, opening gate", "id", id, "operation", req.coordinate)
			s.openGate(id)
		} else {
			opID := req.coordinate
			s.opts.Registry.WatchOperation(opID, func(models.Operation) {
				slog.Debug("Scheduler: coordinated operation finished, opening gate", "id", id, "operation", opID)
				s.openGate(id)
			})
		}
	}

	slog.Debug("Scheduler.Enqueue: request queued",
		"id", id, "priority", priority, "owner", options.Owner,
		"delay", options.Delay, "coordinateWith", options.CoordinateWithOperation)
	s.kick()
	return handle, nil
}

// Cancel removes a queued request (rejecting its awaiting caller) or marks a
// running one cancelled. Cancellation of running work is best-effort: the
// animation function is not forcibly interrupted, only its bookkeeping.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	req, ok := s.ids[id]
	if !ok {
		s.mu.Unlock()
		slog.Warn("Scheduler.Cancel: unknown request id", "id", id)
		return
	}
	s.cancelLocked(req)
	s.mu.Unlock()

	slog.Debug("Scheduler.Cancel: request cancelled", "id", id)
	s.kick()
}

// CancelOwner cancels every queued or running request belonging to owner.
func (s *Scheduler) CancelOwner(owner string) {
	s.mu.Lock()
	count := 0
	for _, req := range s.ids {
		if req.owner == owner {
			s.cancelLocked(req)
			count++
		}
	}
	s.mu.Unlock()

	if count > 0 {
		slog.Info("Scheduler.CancelOwner: cancelled requests", "owner", owner, "count", count)
		s.kick()
	}
}

// cancelLocked finalizes a request as cancelled. Caller must hold s.mu.
func (s *Scheduler) cancelLocked(req *request) {
	if req.handle.Status().IsTerminal() {
		return
	}
	if req.cancelRun != nil {
		req.cancelRun()
	}
	s.removeFromQueueLocked(req)
	delete(s.running, req.handle.id)
	delete(s.ids, req.handle.id)
	req.endedAt = time.Now()
	finalize(req.handle, models.AnimationStatusCancelled, ErrCancelled)
}

// Run drives the processing loop. It blocks until ctx is cancelled. Exactly
// one Run per scheduler instance.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("Scheduler.Run: starting animation loop", "ceiling", s.opts.Ceiling)
	for {
		nextEligible := s.dispatch()

		var timer *time.Timer
		var timerC <-chan time.Time
		if !nextEligible.IsZero() {
			timer = time.NewTimer(time.Until(nextEligible))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			slog.Info("Scheduler.Run: stopping")
			s.drain()
			return
		case <-s.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// dispatch starts as many eligible requests as capacity allows and returns the
// earliest future eligibility time among still-waiting requests, if any.
func (s *Scheduler) dispatch() time.Time {
	s.shedIfDegraded()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var nextEligible time.Time
	for len(s.running) < s.opts.Ceiling {
		best := -1
		for i, req := range s.queue {
			if !req.gateOpen {
				continue
			}
			if req.eligibleAt.After(now) {
				if nextEligible.IsZero() || req.eligibleAt.Before(nextEligible) {
					nextEligible = req.eligibleAt
				}
				continue
			}
			if best == -1 || higherPriority(req, s.queue[best]) {
				best = i
			}
		}
		if best == -1 {
			break
		}
		req := s.queue[best]
		s.queue = append(s.queue[:best], s.queue[best+1:]...)
		s.startLocked(req)
	}
	return nextEligible
}

// higherPriority orders a before b: priority descending, FIFO within equal
// priority.
func higherPriority(a, b *request) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

// startLocked moves a request to running and launches its function. Caller
// must hold s.mu.
func (s *Scheduler) startLocked(req *request) {
	id := req.handle.id
	runCtx, cancel := context.WithCancel(context.Background())
	req.cancelRun = cancel
	req.startedAt = time.Now()
	s.running[id] = req
	req.handle.mu.Lock()
	req.handle.status = models.AnimationStatusRunning
	req.handle.mu.Unlock()

	slog.Debug("Scheduler.startLocked: request running", "id", id, "priority", req.priority, "running", len(s.running))

	go func() {
		err := runAnimation(runCtx, req.fn)
		cancel()

		s.mu.Lock()
		if s.running[id] != req {
			// Cancelled while running; bookkeeping already finalized.
			s.mu.Unlock()
			slog.Debug("Scheduler: cancelled animation function returned", "id", id)
			return
		}
		delete(s.running, id)
		delete(s.ids, id)
		req.endedAt = time.Now()
		if err != nil {
			req.errMsg = err.Error()
		}
		s.mu.Unlock()

		if err != nil {
			slog.Error("Scheduler: animation failed", "id", id, "error", err)
			finalize(req.handle, models.AnimationStatusFailed, err)
		} else {
			slog.Debug("Scheduler: animation completed", "id", id)
			finalize(req.handle, models.AnimationStatusCompleted, nil)
		}
		s.kick()
	}()
}

// runAnimation executes fn, converting a panic into an error so one broken
// transition cannot halt the loop.
func runAnimation(ctx context.Context, fn Func) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("animation panicked: %v", rec)
		}
	}()
	return fn(ctx)
}

// shedIfDegraded cancels the lowest-priority running request when frame
// sampling reports degraded responsiveness and enough animations are active.
func (s *Scheduler) shedIfDegraded() {
	if s.opts.Frames == nil || !s.opts.Frames.Degraded() {
		return
	}

	s.mu.Lock()
	if len(s.running) <= s.opts.ShedThreshold {
		s.mu.Unlock()
		return
	}
	var victim *request
	for _, req := range s.running {
		if victim == nil || req.priority < victim.priority ||
			(req.priority == victim.priority && req.seq > victim.seq) {
			victim = req
		}
	}
	if victim != nil {
		s.cancelLocked(victim)
	}
	s.mu.Unlock()

	if victim != nil {
		slog.Warn("Scheduler.shedIfDegraded: cancelled low-priority animation under load",
			"id", victim.handle.id, "priority", victim.priority)
	}
}

// openGate marks a coordinated request eligible for scheduling.
func (s *Scheduler) openGate(id string) {
	s.mu.Lock()
	req, ok := s.ids[id]
	if ok {
		req.gateOpen = true
	}
	s.mu.Unlock()
	if ok {
		s.kick()
	}
}

// drain rejects every remaining request when the loop shuts down.
func (s *Scheduler) drain() {
	s.mu.Lock()
	reqs := make([]*request, 0, len(s.ids))
	for _, req := range s.ids {
		reqs = append(reqs, req)
	}
	for _, req := range reqs {
		s.cancelLocked(req)
	}
	s.mu.Unlock()
	if len(reqs) > 0 {
		slog.Info("Scheduler.drain: cancelled outstanding requests on shutdown", "count", len(reqs))
	}
}

// removeFromQueueLocked drops req from the queued slice if present. Caller
// must hold s.mu.
func (s *Scheduler) removeFromQueueLocked(target *request) {
	for i, req := range s.queue {
		if req == target {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// kick nudges the processing loop without blocking.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunningCount returns the number of currently running requests.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// QueuedCount returns the number of queued requests.
func (s *Scheduler) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Snapshot reports every tracked request for status surfaces.
func (s *Scheduler) Snapshot() []models.AnimationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AnimationRequest, 0, len(s.ids))
	for _, req := range s.ids {
		out = append(out, models.AnimationRequest{
			ID:                      req.handle.id,
			Priority:                req.priority,
			Owner:                   req.owner,
			Delay:                   req.delay,
			Status:                  req.handle.Status(),
			CoordinateWithOperation: req.coordinate,
			EnqueuedAt:              req.enqueuedAt,
			StartedAt:               req.startedAt,
			EndedAt:                 req.endedAt,
			Error:                   req.errMsg,
		})
	}
	return out
}

// finalize records a terminal status on the handle and releases waiters.
func finalize(h *Handle, status models.AnimationStatus, err error) {
	h.mu.Lock()
	if h.status.IsTerminal() {
		h.mu.Unlock()
		return
	}
	h.status = status
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
