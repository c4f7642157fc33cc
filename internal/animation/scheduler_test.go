package animation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/movierec/movierec/internal/models"
	"github.com/movierec/movierec/internal/operation"
)

// startScheduler runs the loop for the duration of the test.
func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPriorityOrdering(t *testing.T) {
	s := NewScheduler(WithConcurrency(2))

	// Hold all five until everything is queued so order is decided purely by
	// priority, then release one at a time.
	release := make(chan struct{})
	var mu sync.Mutex
	var order []models.Priority

	enqueue := func(p models.Priority) *Handle {
		h, err := s.Enqueue("", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			<-release
			return nil
		}, Options{Priority: p})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		return h
	}

	priorities := []models.Priority{1, 4, 2, 4, 3}
	handles := make([]*Handle, 0, len(priorities))
	for _, p := range priorities {
		handles = append(handles, enqueue(p))
	}

	startScheduler(t, s)

	// Two slots: both priority-4 requests run first.
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	mu.Lock()
	if order[0] != 4 || order[1] != 4 {
		mu.Unlock()
		t.Fatalf("expected the two priority-4 requests first, got %v", order)
	}
	mu.Unlock()

	for i := 0; i < len(priorities); i++ {
		release <- struct{}{}
	}
	for _, h := range handles {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := h.Wait(ctx); err != nil {
			t.Fatalf("request failed: %v", err)
		}
		cancel()
	}

	mu.Lock()
	defer mu.Unlock()
	want := []models.Priority{4, 4, 3, 2, 1}
	for i, p := range want {
		if order[i] != p {
			t.Fatalf("run order mismatch at %d: got %v, want %v", i, order, want)
		}
	}
}

func TestCeilingNeverExceeded(t *testing.T) {
	const ceiling = 2
	s := NewScheduler(WithConcurrency(ceiling))
	startScheduler(t, s)

	var running, peak int64
	var handles []*Handle
	for i := 0; i < 8; i++ {
		h, err := s.Enqueue("", func(ctx context.Context) error {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&running, -1)
			return nil
		}, Options{})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		handles = append(handles, h)
	}

	for _, h := range handles {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.Wait(ctx); err != nil {
			t.Fatalf("request failed: %v", err)
		}
		cancel()
	}
	if p := atomic.LoadInt64(&peak); p > ceiling {
		t.Errorf("observed %d simultaneous animations, ceiling is %d", p, ceiling)
	}
}

func TestFailureDoesNotHaltLoop(t *testing.T) {
	s := NewScheduler(WithConcurrency(1))
	startScheduler(t, s)

	bad, err := s.Enqueue("bad", func(ctx context.Context) error {
		return errors.New("transition exploded")
	}, Options{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	good, err := s.Enqueue("good", func(ctx context.Context) error { return nil }, Options{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bad.Wait(ctx); err == nil {
		t.Error("expected failure from bad animation")
	}
	if bad.Status() != models.AnimationStatusFailed {
		t.Errorf("expected failed status, got %s", bad.Status())
	}
	if err := good.Wait(ctx); err != nil {
		t.Errorf("loop did not continue past a failed animation: %v", err)
	}
}

func TestPanicIsContained(t *testing.T) {
	s := NewScheduler(WithConcurrency(1))
	startScheduler(t, s)

	h, err := s.Enqueue("", func(ctx context.Context) error {
		panic("broken easing curve")
	}, Options{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err == nil {
		t.Fatal("expected panic to surface as an error")
	}
	if h.Status() != models.AnimationStatusFailed {
		t.Errorf("expected failed status, got %s", h.Status())
	}
}

func TestCancelQueuedRequest(t *testing.T) {
	s := NewScheduler(WithConcurrency(1))

	blocker := make(chan struct{})
	running, err := s.Enqueue("running", func(ctx context.Context) error {
		<-blocker
		return nil
	}, Options{Priority: models.PriorityHigh})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	queued, err := s.Enqueue("queued", func(ctx context.Context) error { return nil }, Options{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	startScheduler(t, s)
	waitFor(t, func() bool { return s.RunningCount() == 1 })

	s.Cancel("queued")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := queued.Wait(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled for queued request, got %v", err)
	}

	close(blocker)
	if err := running.Wait(ctx); err != nil {
		t.Errorf("running request should finish normally: %v", err)
	}
}

func TestReducedMotionResolvesImmediately(t *testing.T) {
	motion := NewStaticMotionSignal(true)
	s := NewScheduler(WithMotionSignal(motion))
	// Loop deliberately not started: requests must still resolve.

	executed := false
	h, err := s.Enqueue("", func(ctx context.Context) error {
		executed = true
		return nil
	}, Options{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("reduced-motion request did not resolve immediately")
	}
	if executed {
		t.Error("animation function must not run under reduced motion")
	}
	if h.Status() != models.AnimationStatusCompleted {
		t.Errorf("expected completed status, got %s", h.Status())
	}

	// Forced requests still animate.
	startScheduler(t, s)
	forcedRan := make(chan struct{})
	forced, err := s.Enqueue("", func(ctx context.Context) error {
		close(forcedRan)
		return nil
	}, Options{Force: true})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := forced.Wait(ctx); err != nil {
		t.Fatalf("forced request failed: %v", err)
	}
	select {
	case <-forcedRan:
	default:
		t.Error("forced animation function never ran")
	}
}

func TestCoordinateWithOperation(t *testing.T) {
	registry := operation.NewRegistry()
	s := NewScheduler(WithRegistry(registry))
	startScheduler(t, s)

	opID := registry.Start(models.OperationPreferencesLoad, operation.StartOptions{})

	ran := make(chan struct{})
	h, err := s.Enqueue("", func(ctx context.Context) error {
		close(ran)
		return nil
	}, Options{CoordinateWithOperation: opID})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case <-ran:
		t.Fatal("coordinated animation ran before the operation finished")
	case <-time.After(100 * time.Millisecond):
	}

	registry.Complete(opID, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("coordinated request failed: %v", err)
	}
}

func TestDelayedRequest(t *testing.T) {
	s := NewScheduler()
	startScheduler(t, s)

	started := make(chan time.Time, 1)
	enqueuedAt := time.Now()
	h, err := s.Enqueue("", func(ctx context.Context) error {
		started <- time.Now()
		return nil
	}, Options{Delay: 120 * time.Millisecond})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("delayed request failed: %v", err)
	}
	at := <-started
	if at.Sub(enqueuedAt) < 100*time.Millisecond {
		t.Errorf("delayed request ran too early: %v", at.Sub(enqueuedAt))
	}
}

func TestAdaptiveShedding(t *testing.T) {
	frames := NewSimpleFrameSamplerWith(4, 10*time.Millisecond)
	s := NewScheduler(WithConcurrency(3), WithShedThreshold(1), WithFrameSampler(frames))
	startScheduler(t, s)

	blocker := make(chan struct{})
	defer close(blocker)
	hold := func(ctx context.Context) error {
		select {
		case <-blocker:
		case <-ctx.Done():
		}
		return nil
	}

	high, err := s.Enqueue("high", hold, Options{Priority: models.PriorityCritical})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	low, err := s.Enqueue("low", hold, Options{Priority: models.PriorityLow})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	waitFor(t, func() bool { return s.RunningCount() == 2 })

	// Saturate the sampler with slow frames, then nudge the loop.
	for i := 0; i < 4; i++ {
		frames.RecordFrame(50 * time.Millisecond)
	}
	s.kick()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := low.Wait(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected low-priority request to be shed, got %v", err)
	}
	if high.Status() == models.AnimationStatusCancelled {
		t.Error("high-priority request must not be shed")
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	s := NewScheduler()
	noop := func(ctx context.Context) error { return nil }
	if _, err := s.Enqueue("dup", noop, Options{}); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if _, err := s.Enqueue("dup", noop, Options{}); err == nil {
		t.Error("duplicate id should be rejected")
	}
}

func TestDuplicateIDRejectedUnderReducedMotion(t *testing.T) {
	motion := NewStaticMotionSignal(true)
	s := NewScheduler(WithMotionSignal(motion))
	noop := func(ctx context.Context) error { return nil }

	// A forced request stays tracked even under reduced motion; reusing its
	// id must be rejected, not silently resolved.
	if _, err := s.Enqueue("spotlight", noop, Options{Force: true}); err != nil {
		t.Fatalf("forced enqueue failed: %v", err)
	}
	if _, err := s.Enqueue("spotlight", noop, Options{}); err == nil {
		t.Error("duplicate id accepted under reduced motion")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
