package appstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/movierec/movierec/internal/models"
	"github.com/movierec/movierec/internal/operation"
	"github.com/movierec/movierec/internal/preferences"
)

// ErrFetchInFlight is returned when a non-forced preference fetch is requested
// while one is already running.
var ErrFetchInFlight = fmt.Errorf("preference fetch already in flight")

// Listener receives every state change plus one immediate snapshot on
// subscribe.
type Listener func(State)

// Store is the reducer-driven state container. Dispatch is the only way to
// change state; LoadPreferences layers the fetch orchestration (operation
// tracking, cycle supersession, in-flight guard) on top.
type Store struct {
	registry *operation.Registry
	syncer   *preferences.Synchronizer

	mu        sync.Mutex
	state     State
	listeners map[string]Listener

	// fetchCycle advances on every started fetch; a resolving fetch whose
	// captured cycle is no longer current was superseded and its result is
	// discarded.
	fetchCycle    uint64
	fetchInFlight bool
}

// NewStore creates a state container wired to the operation registry and
// preference synchronizer.
func NewStore(registry *operation.Registry, syncer *preferences.Synchronizer) *Store {
	return &Store{
		registry:  registry,
		syncer:    syncer,
		state:     InitialState(),
		listeners: make(map[string]Listener),
	}
}

// Dispatch applies an action through the reducer and notifies listeners.
func (s *Store) Dispatch(action Action) {
	s.mu.Lock()
	s.state = Reduce(s.state, action)
	next := s.state
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	slog.Debug("Store.Dispatch: action applied", "type", action.Type)
	for _, l := range listeners {
		l(next)
	}
}

// GetState returns the current state snapshot.
func (s *Store) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a listener and invokes it once immediately with the
// current state. The returned function unsubscribes.
func (s *Store) Subscribe(l Listener) func() {
	token := uuid.NewString()
	s.mu.Lock()
	s.listeners[token] = l
	current := s.state
	s.mu.Unlock()

	l(current)
	return func() {
		s.mu.Lock()
		delete(s.listeners, token)
		s.mu.Unlock()
	}
}

// LoadPreferences runs a tracked preference fetch for the authenticated
// identity and folds the outcome into state.
//
// A non-forced call while a fetch is in flight returns ErrFetchInFlight. A
// forced call always proceeds and supersedes any running fetch: the older
// fetch's result is discarded when it resolves (the fetch cycle captured at
// its start is no longer current).
func (s *Store) LoadPreferences(ctx context.Context, forceRefresh bool) error {
	s.mu.Lock()
	identity := s.state.Auth.Identity
	if identity == "" {
		s.mu.Unlock()
		return models.NewSyncError(models.ErrorCodeNoIdentity, "no authenticated identity for preference load", nil)
	}
	if s.fetchInFlight && !forceRefresh {
		s.mu.Unlock()
		slog.Debug("Store.LoadPreferences: fetch already in flight, skipping")
		return ErrFetchInFlight
	}
	s.fetchCycle++
	cycle := s.fetchCycle
	s.fetchInFlight = true
	s.mu.Unlock()

	opID := s.registry.Start(models.OperationPreferencesLoad, operation.StartOptions{
		Priority: models.PriorityHigh,
		Owner:    identity,
		Metadata: map[string]string{"force_refresh": fmt.Sprintf("%t", forceRefresh)},
	})
	s.Dispatch(SetPreferencesLoading())

	result, err := s.syncer.Load(ctx, identity, forceRefresh)

	if !s.settleFetch(cycle) {
		slog.Info("Store.LoadPreferences: superseded fetch result discarded", "cycle", cycle)
		// The operation still reflects how the fetch actually ended.
		if err != nil {
			s.registry.Fail(opID, err)
		} else {
			s.registry.Complete(opID, nil)
		}
		return nil
	}

	if err != nil {
		code := models.CodeOf(err)
		s.registry.Fail(opID, err)
		s.Dispatch(SetPreferencesError(code))
		if code == models.ErrorCodeNoDataFound {
			// Absence is an answer: the caller shows the intake flow.
			return nil
		}
		return err
	}

	s.registry.Complete(opID, result.Data)
	s.Dispatch(SetPreferencesSuccess(PreferencesResult{
		Record:     result.Data,
		Source:     result.Source,
		Consistent: result.Consistent,
	}))
	return nil
}

// SavePreferences runs a tracked preference save and overlays the saved
// record into state.
func (s *Store) SavePreferences(ctx context.Context, record *models.PreferenceRecord, isPartial bool) error {
	s.mu.Lock()
	identity := s.state.Auth.Identity
	s.mu.Unlock()
	if identity == "" {
		return models.NewSyncError(models.ErrorCodeNoIdentity, "no authenticated identity for preference save", nil)
	}

	opID := s.registry.Start(models.OperationPreferencesSave, operation.StartOptions{
		Priority: models.PriorityHigh,
		Owner:    identity,
	})

	saved, err := s.syncer.Save(ctx, identity, record, isPartial)
	if err != nil {
		s.registry.Fail(opID, err)
		return err
	}

	s.registry.Complete(opID, saved)
	s.Dispatch(SetPreferencesSuccess(PreferencesResult{
		Record:     record,
		Source:     saved.Source,
		Consistent: record.IsConsistent,
	}))
	return nil
}

// SignOut clears identity-scoped state and cancels the identity's tracked
// operations.
func (s *Store) SignOut() {
	s.mu.Lock()
	identity := s.state.Auth.Identity
	s.mu.Unlock()

	if identity != "" {
		s.registry.ClearOwner(identity)
		s.syncer.Invalidate(identity)
	}
	s.Dispatch(ResetState())
	slog.Info("Store.SignOut: state reset", "identity", identity)
}

// settleFetch clears the in-flight guard if the given cycle is still the
// newest one, and reports whether the result should be applied.
func (s *Store) settleFetch(cycle uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cycle != s.fetchCycle {
		return false
	}
	s.fetchInFlight = false
	return true
}
