package appstate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/movierec/movierec/internal/models"
	"github.com/movierec/movierec/internal/operation"
	"github.com/movierec/movierec/internal/preferences"
	"github.com/movierec/movierec/internal/store"
)

// blockingRemote serves scripted payloads and can hold a fetch open until
// released, for supersession tests.
type blockingRemote struct {
	mu      sync.Mutex
	payload json.RawMessage
	err     error
	gate    chan struct{}
}

func (r *blockingRemote) FetchPreferences(ctx context.Context, identity string) (json.RawMessage, error) {
	r.mu.Lock()
	gate := r.gate
	payload, err := r.payload, r.err
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, models.NewSyncError(models.ErrorCodeNetwork, "fetch cancelled", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (r *blockingRemote) StorePreferences(ctx context.Context, identity, payloadJSON string) error {
	return nil
}

func (r *blockingRemote) set(payload string, err error) {
	r.mu.Lock()
	r.payload, r.err = json.RawMessage(payload), err
	r.mu.Unlock()
}

func newTestStore(remote *blockingRemote) *Store {
	registry := operation.NewRegistry()
	syncer := preferences.NewSynchronizer(remote, store.NewInMemoryStore())
	return NewStore(registry, syncer)
}

func signIn(s *Store, identity string) {
	s.Dispatch(SetAuthState(AuthState{Identity: identity, Authenticated: true}))
}

func TestReducerIsPure(t *testing.T) {
	before := InitialState()
	before.Preferences.Record = &models.PreferenceRecord{
		Fields: map[string]interface{}{"genre": "noir"},
	}

	after := Reduce(before, UpdatePreferences(map[string]interface{}{"genre": "western"}))

	if before.Preferences.Record.Fields["genre"] != "noir" {
		t.Error("reducer mutated the input state")
	}
	if after.Preferences.Record.Fields["genre"] != "western" {
		t.Error("reducer did not apply the update")
	}
}

func TestResetPreservesInitialLoadComplete(t *testing.T) {
	state := InitialState()
	state.InitialLoadComplete = true
	state.Auth = AuthState{Identity: "user-1", Authenticated: true}
	state.Preferences.Record = &models.PreferenceRecord{Fields: map[string]interface{}{"genre": "noir"}}

	next := Reduce(state, ResetState())

	if !next.InitialLoadComplete {
		t.Error("RESET_STATE must preserve InitialLoadComplete")
	}
	if next.Auth.Authenticated || next.Preferences.Record != nil {
		t.Error("RESET_STATE must clear identity-scoped state")
	}
}

func TestUnknownActionIsNoOp(t *testing.T) {
	state := InitialState()
	state.UI.ActiveView = "browse"
	next := Reduce(state, Action{Type: "NOT_A_REAL_ACTION"})
	if next != state {
		t.Error("unknown action changed state")
	}
}

func TestSubscribeImmediateSnapshot(t *testing.T) {
	s := newTestStore(&blockingRemote{})
	signIn(s, "user-1")

	var mu sync.Mutex
	var got []State
	unsubscribe := s.Subscribe(func(st State) {
		mu.Lock()
		got = append(got, st)
		mu.Unlock()
	})

	mu.Lock()
	if len(got) != 1 || got[0].Auth.Identity != "user-1" {
		t.Fatalf("expected one immediate snapshot, got %d", len(got))
	}
	mu.Unlock()

	unsubscribe()
	s.Dispatch(SetUIState(UIState{ActiveView: "browse"}))
	mu.Lock()
	if len(got) != 1 {
		t.Error("listener notified after unsubscribe")
	}
	mu.Unlock()
}

func TestLoadPreferencesSuccess(t *testing.T) {
	remote := &blockingRemote{}
	remote.set(`{"fields":{"genre":"noir"},"completion_flag":true}`, nil)
	s := newTestStore(remote)
	signIn(s, "user-1")

	if err := s.LoadPreferences(context.Background(), true); err != nil {
		t.Fatalf("LoadPreferences failed: %v", err)
	}

	state := s.GetState()
	if state.Preferences.Loading {
		t.Error("loading flag not cleared")
	}
	if state.Preferences.Record == nil || state.Preferences.Record.Fields["genre"] != "noir" {
		t.Errorf("record not folded into state: %+v", state.Preferences)
	}
	if state.Preferences.Source != models.SourceRemote || !state.Preferences.Consistent {
		t.Errorf("unexpected preferences state: %+v", state.Preferences)
	}
	if !state.InitialLoadComplete {
		t.Error("InitialLoadComplete not set after first load")
	}
}

func TestLoadPreferencesNoIdentity(t *testing.T) {
	s := newTestStore(&blockingRemote{})
	err := s.LoadPreferences(context.Background(), true)
	if models.CodeOf(err) != models.ErrorCodeNoIdentity {
		t.Errorf("expected NO_IDENTITY, got %v", err)
	}
}

func TestLoadPreferencesNoDataIsNotAnError(t *testing.T) {
	remote := &blockingRemote{}
	remote.set("", models.NewSyncError(models.ErrorCodeNoDataFound, "nothing stored", nil))
	s := newTestStore(remote)
	signIn(s, "user-1")

	if err := s.LoadPreferences(context.Background(), true); err != nil {
		t.Fatalf("absence must yield a signal, not an error: %v", err)
	}
	state := s.GetState()
	if state.Preferences.LastError != models.ErrorCodeNoDataFound {
		t.Errorf("expected NO_DATA_FOUND recorded, got %q", state.Preferences.LastError)
	}
}

func TestLoadPreferencesInFlightGuard(t *testing.T) {
	remote := &blockingRemote{gate: make(chan struct{})}
	remote.set(`{"fields":{"genre":"noir"},"completion_flag":true}`, nil)
	s := newTestStore(remote)
	signIn(s, "user-1")

	done := make(chan error, 1)
	go func() { done <- s.LoadPreferences(context.Background(), true) }()

	// Wait until the first fetch is holding the gate.
	waitFor(t, func() bool { return s.GetState().Preferences.Loading })

	if err := s.LoadPreferences(context.Background(), false); !errors.Is(err, ErrFetchInFlight) {
		t.Errorf("expected ErrFetchInFlight, got %v", err)
	}

	close(remote.gate)
	if err := <-done; err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
}

func TestSupersededFetchResultDiscarded(t *testing.T) {
	gate := make(chan struct{})
	remote := &blockingRemote{gate: gate}
	remote.set(`{"fields":{"genre":"noir"},"completion_flag":true}`, nil)
	s := newTestStore(remote)
	signIn(s, "user-1")

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.LoadPreferences(context.Background(), true) }()
	waitFor(t, func() bool { return s.GetState().Preferences.Loading })

	// The second, forced fetch supersedes the first. It resolves immediately.
	remote.mu.Lock()
	remote.gate = nil
	remote.payload = json.RawMessage(`{"fields":{"genre":"western"},"completion_flag":true}`)
	remote.mu.Unlock()

	if err := s.LoadPreferences(context.Background(), true); err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if got := s.GetState().Preferences.Record.Fields["genre"]; got != "western" {
		t.Fatalf("second fetch result not applied: %v", got)
	}

	// Release the first fetch; its older result must not clobber the newer one.
	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first fetch errored: %v", err)
	}
	if got := s.GetState().Preferences.Record.Fields["genre"]; got != "western" {
		t.Errorf("stale fetch result clobbered newer state: %v", got)
	}

	// A later non-forced load goes through the synchronizer's cache; the
	// stale result must not resurface there either.
	if err := s.LoadPreferences(context.Background(), false); err != nil {
		t.Fatalf("follow-up fetch failed: %v", err)
	}
	if got := s.GetState().Preferences.Record.Fields["genre"]; got != "western" {
		t.Errorf("stale fetch result resurfaced on a later load: %v", got)
	}
}

func TestSupersededFailedFetchRecordsError(t *testing.T) {
	gate := make(chan struct{})
	remote := &blockingRemote{gate: gate}
	remote.set("", models.NewSyncError(models.ErrorCodeServer, "500", nil))
	registry := operation.NewRegistry()
	syncer := preferences.NewSynchronizer(remote, store.NewInMemoryStore())
	s := NewStore(registry, syncer)
	signIn(s, "user-1")

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.LoadPreferences(context.Background(), true) }()
	waitFor(t, func() bool { return s.GetState().Preferences.Loading })

	remote.mu.Lock()
	remote.gate = nil
	remote.err = nil
	remote.payload = json.RawMessage(`{"fields":{"genre":"western"},"completion_flag":true}`)
	remote.mu.Unlock()

	if err := s.LoadPreferences(context.Background(), true); err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}

	// Release the failing first fetch. Its result is discarded, but its
	// operation must still read as an error, not a success.
	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("superseded fetch must not surface its error: %v", err)
	}

	found := false
	for _, opErr := range registry.AggregatedState().RecentErrors {
		if opErr.Type == models.OperationPreferencesLoad {
			found = true
		}
	}
	if !found {
		t.Error("discarded failed fetch not recorded as an operation error")
	}
}

func TestLoadPreferencesTracksOperation(t *testing.T) {
	remote := &blockingRemote{gate: make(chan struct{})}
	remote.set(`{"fields":{"genre":"noir"},"completion_flag":true}`, nil)
	registry := operation.NewRegistry()
	syncer := preferences.NewSynchronizer(remote, store.NewInMemoryStore())
	s := NewStore(registry, syncer)
	signIn(s, "user-1")

	done := make(chan error, 1)
	go func() { done <- s.LoadPreferences(context.Background(), true) }()

	waitFor(t, func() bool { return registry.AggregatedState().Busy })
	agg := registry.AggregatedState()
	if agg.ActiveCount != 1 || agg.HighestActivePriority != models.PriorityHigh {
		t.Errorf("unexpected aggregated state: %+v", agg)
	}

	close(remote.gate)
	if err := <-done; err != nil {
		t.Fatalf("LoadPreferences failed: %v", err)
	}
	waitFor(t, func() bool { return !registry.AggregatedState().Busy })
}

func TestSignOutClearsState(t *testing.T) {
	remote := &blockingRemote{}
	remote.set(`{"fields":{"genre":"noir"},"completion_flag":true}`, nil)
	s := newTestStore(remote)
	signIn(s, "user-1")
	if err := s.LoadPreferences(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	s.SignOut()

	state := s.GetState()
	if state.Auth.Authenticated || state.Preferences.Record != nil {
		t.Errorf("identity-scoped state survived sign-out: %+v", state)
	}
	if !state.InitialLoadComplete {
		t.Error("InitialLoadComplete must survive sign-out")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
