package preferences

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/movierec/movierec/internal/models"
	"github.com/movierec/movierec/internal/store"
)

// DefaultRemoteTimeout bounds a single remote fetch or store call.
const DefaultRemoteTimeout = 10 * time.Second

// Result is the outcome of a Load call.
type Result struct {
	Success    bool
	Data       *models.PreferenceRecord
	Source     models.Source
	Consistent bool
}

// SaveResult reports which of the two persistence targets accepted a Save.
type SaveResult struct {
	RemoteOK bool
	LocalOK  bool
	Source   models.Source
}

// Opts holds synchronizer configuration options.
type Opts struct {
	RepairRetry   RetryPolicy
	RemoteTimeout time.Duration
}

// Option configures the synchronizer.
type Option func(*Opts)

// WithRepairRetryPolicy overrides the retry policy used for fire-and-forget
// re-persistence of repaired records.
func WithRepairRetryPolicy(p RetryPolicy) Option {
	return func(o *Opts) { o.RepairRetry = p }
}

// WithRemoteTimeout overrides the per-call remote timeout.
func WithRemoteTimeout(d time.Duration) Option {
	return func(o *Opts) { o.RemoteTimeout = d }
}

// Synchronizer reconciles the local preference store against the remote
// source of truth. Remote wins when reachable; the local store is both the
// fallback for transient remote failures and the durability backstop for
// writes.
type Synchronizer struct {
	remote      RemoteClient
	local       store.Store
	repairRetry RetryPolicy
	timeout     time.Duration

	mu     sync.Mutex
	cached map[string]*models.PreferenceRecord

	// loadSeq advances per identity on every load start (and on every save
	// or invalidation). A resolving load whose captured sequence is stale
	// was superseded and must not install its result.
	loadSeq map[string]uint64
}

// NewSynchronizer creates a synchronizer over the given remote client and
// local store.
func NewSynchronizer(remote RemoteClient, local store.Store, options ...Option) *Synchronizer {
	opts := Opts{
		RepairRetry:   DefaultRepairRetryPolicy,
		RemoteTimeout: DefaultRemoteTimeout,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return &Synchronizer{
		remote:      remote,
		local:       local,
		repairRetry: opts.RepairRetry,
		timeout:     opts.RemoteTimeout,
		cached:      make(map[string]*models.PreferenceRecord),
		loadSeq:     make(map[string]uint64),
	}
}

// Load retrieves the preference record for an identity, remote first.
//
// forceRefresh bypasses the in-process cache of the last loaded record;
// non-forced loads return the cached record when one exists. Transient remote
// failures (network, server-class) fall back to the local store; an explicit
// remote "no data" response purges any stale local copy. AUTH_ERROR and
// NO_DATA_FOUND are returned to the caller; everything else is absorbed into
// the fallback path.
func (s *Synchronizer) Load(ctx context.Context, identity string, forceRefresh bool) (Result, error) {
	if identity == "" {
		return Result{}, models.NewSyncError(models.ErrorCodeNoIdentity, "no identity for preference load", nil)
	}

	if !forceRefresh {
		s.mu.Lock()
		cached, ok := s.cached[identity]
		s.mu.Unlock()
		if ok {
			slog.Debug("Synchronizer.Load: serving cached record", "identity", identity)
			return Result{Success: true, Data: cached, Source: cached.Source, Consistent: cached.IsConsistent}, nil
		}
	}

	s.mu.Lock()
	s.loadSeq[identity]++
	seq := s.loadSeq[identity]
	s.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.remote.FetchPreferences(fetchCtx, identity)
	if err != nil {
		return s.loadAfterRemoteFailure(ctx, identity, seq, err)
	}

	record, err := NormalizePayload(raw)
	if err != nil {
		slog.Error("Synchronizer.Load: remote payload unparseable, falling back to local", "identity", identity, "error", err)
		return s.loadAfterRemoteFailure(ctx, identity, seq,
			models.NewSyncError(models.ErrorCodeServer, "remote returned unparseable preference payload", err))
	}

	repaired := CheckConsistency(record)
	record.Source = models.SourceRemote
	if repaired {
		slog.Warn("Synchronizer.Load: remote record repaired, re-persisting in background", "identity", identity)
		go s.persistRepair(identity, record)
	}

	if s.install(identity, seq, record) {
		s.mirrorLocal(identity, record)
	} else {
		slog.Debug("Synchronizer.Load: load superseded, result not retained", "identity", identity)
	}
	return Result{Success: true, Data: record, Source: models.SourceRemote, Consistent: true}, nil
}

// loadAfterRemoteFailure classifies a remote error and runs the local
// fallback or purge as appropriate.
func (s *Synchronizer) loadAfterRemoteFailure(ctx context.Context, identity string, seq uint64, remoteErr error) (Result, error) {
	code := models.CodeOf(remoteErr)

	switch code {
	case models.ErrorCodeNoDataFound:
		// The remote authoritatively has nothing; a local copy is stale.
		s.purgeLocal(identity)
		slog.Info("Synchronizer.Load: no remote data, purged local copy", "identity", identity)
		return Result{Success: false}, remoteErr

	case models.ErrorCodeAuth:
		slog.Warn("Synchronizer.Load: authentication failure", "identity", identity)
		return Result{Success: false}, remoteErr
	}

	if !models.IsTransient(remoteErr) {
		slog.Error("Synchronizer.Load: non-transient remote failure", "identity", identity, "error", remoteErr)
		return Result{Success: false}, remoteErr
	}

	slog.Warn("Synchronizer.Load: transient remote failure, falling back to local", "identity", identity, "error", remoteErr)
	record, found, err := s.loadLocal(identity)
	if err != nil {
		return Result{Success: false}, err
	}
	if !found {
		return Result{Success: false}, models.NewSyncError(models.ErrorCodeNoDataFound,
			"no usable preference data after remote failure and local fallback", remoteErr)
	}
	s.install(identity, seq, record)
	return Result{Success: true, Data: record, Source: models.SourceLocal, Consistent: true}, nil
}

// Save persists a preference record. The remote write is attempted first but
// the local write always happens; the local copy is a durability backstop,
// not merely a cache.
//
// isPartial marks a record carrying only a subset of fields; it is merged
// over the most recent known record before persisting.
func (s *Synchronizer) Save(ctx context.Context, identity string, record *models.PreferenceRecord, isPartial bool) (SaveResult, error) {
	if identity == "" {
		return SaveResult{}, models.NewSyncError(models.ErrorCodeNoIdentity, "no identity for preference save", nil)
	}
	if record == nil {
		return SaveResult{}, models.NewSyncError(models.ErrorCodeLocalWriteError, "nil record for preference save", nil)
	}

	if isPartial {
		record = s.mergePartial(identity, record)
		// A mid-intake save legitimately carries content with an unset
		// flag; only a set flag without content needs correcting here.
		if record.CompletionFlag && !record.HasSubstantiveContent() {
			slog.Warn("Synchronizer.Save: partial record flagged complete without content, correcting to false", "identity", identity)
			record.CompletionFlag = false
		}
		record.IsConsistent = true
	} else {
		CheckConsistency(record)
	}

	payload, err := EncodePayload(record)
	if err != nil {
		return SaveResult{}, models.NewSyncError(models.ErrorCodeLocalWriteError, "failed to encode preference record", err)
	}

	result := SaveResult{}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	remoteErr := s.remote.StorePreferences(storeCtx, identity, payload)
	if remoteErr != nil {
		slog.Warn("Synchronizer.Save: remote write failed, local write proceeds", "identity", identity, "error", remoteErr)
	} else {
		result.RemoteOK = true
	}

	localErr := s.writeLocal(identity, payload, record.CompletionFlag)
	if localErr != nil {
		slog.Error("Synchronizer.Save: local write failed", "identity", identity, "error", localErr)
	} else {
		result.LocalOK = true
	}

	if result.RemoteOK {
		record.Source = models.SourceRemote
		result.Source = models.SourceRemote
	} else {
		record.Source = models.SourceLocal
		result.Source = models.SourceLocal
	}

	if !result.RemoteOK && !result.LocalOK {
		return result, models.NewSyncError(models.ErrorCodeLocalWriteError,
			fmt.Sprintf("preference save failed everywhere: remote: %v", remoteErr), localErr)
	}

	s.cache(identity, record)
	return result, nil
}

// IsComplete reports whether the identity has a consistent, completed
// preference record. It never returns an error: inconsistent, absent, or
// unreachable records all read as incomplete.
func (s *Synchronizer) IsComplete(ctx context.Context, identity string) bool {
	result, err := s.Load(ctx, identity, true)
	if err != nil || !result.Success || result.Data == nil {
		return false
	}
	return result.Consistent && result.Data.CompletionFlag
}

// Invalidate drops the cached record for an identity. Used on logout or
// identity change.
func (s *Synchronizer) Invalidate(identity string) {
	s.mu.Lock()
	delete(s.cached, identity)
	s.loadSeq[identity]++
	s.mu.Unlock()
}

// RepairSweep normalizes and consistency-repairs every locally stored record,
// persisting corrections. It returns the number of records repaired. Run at
// startup by the recovery manager and periodically by maintenance.
func (s *Synchronizer) RepairSweep(ctx context.Context) (int, error) {
	identities, err := s.local.ListIdentities()
	if err != nil {
		return 0, fmt.Errorf("failed to list identities for repair sweep: %w", err)
	}

	repairedCount := 0
	for _, identity := range identities {
		if ctx.Err() != nil {
			return repairedCount, ctx.Err()
		}
		record, found, err := s.loadLocalNoRepair(identity)
		if err != nil || !found {
			continue
		}
		if CheckConsistency(record) {
			payload, encErr := EncodePayload(record)
			if encErr != nil {
				slog.Error("Synchronizer.RepairSweep: failed to encode repaired record", "identity", identity, "error", encErr)
				continue
			}
			if werr := s.writeLocal(identity, payload, record.CompletionFlag); werr != nil {
				slog.Error("Synchronizer.RepairSweep: failed to persist repaired record", "identity", identity, "error", werr)
				continue
			}
			repairedCount++
		}
	}
	if repairedCount > 0 {
		slog.Info("Synchronizer.RepairSweep: repaired records", "count", repairedCount)
	}
	return repairedCount, nil
}

// persistRepair re-writes a repaired record to the remote, retrying under the
// repair policy. Failures are logged only; the caller already has the
// corrected record.
func (s *Synchronizer) persistRepair(identity string, record *models.PreferenceRecord) {
	payload, err := EncodePayload(record)
	if err != nil {
		slog.Error("Synchronizer.persistRepair: failed to encode record", "identity", identity, "error", err)
		return
	}
	err = s.repairRetry.Run(context.Background(), func() error {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		return s.remote.StorePreferences(ctx, identity, payload)
	})
	if err != nil {
		slog.Warn("Synchronizer.persistRepair: repair write exhausted retries", "identity", identity, "error", err)
		return
	}
	slog.Debug("Synchronizer.persistRepair: repaired record persisted remotely", "identity", identity)
}

// loadLocal reads, normalizes, and consistency-repairs the local record,
// persisting any correction back to the store.
func (s *Synchronizer) loadLocal(identity string) (*models.PreferenceRecord, bool, error) {
	record, found, err := s.loadLocalNoRepair(identity)
	if err != nil || !found {
		return nil, found, err
	}
	if CheckConsistency(record) {
		slog.Warn("Synchronizer.loadLocal: local record repaired", "identity", identity)
		if payload, encErr := EncodePayload(record); encErr == nil {
			if werr := s.writeLocal(identity, payload, record.CompletionFlag); werr != nil {
				slog.Error("Synchronizer.loadLocal: failed to persist repaired record", "identity", identity, "error", werr)
			}
		}
	}
	return record, true, nil
}

func (s *Synchronizer) loadLocalNoRepair(identity string) (*models.PreferenceRecord, bool, error) {
	payload, found, err := s.local.GetPreferences(identity)
	if err != nil {
		return nil, false, models.NewSyncError(models.ErrorCodeLocalReadError, "failed to read local preferences", err)
	}
	if !found {
		return nil, false, nil
	}
	record, err := NormalizePayload([]byte(payload))
	if err != nil {
		// Store contract: corruption degrades to absent.
		slog.Warn("Synchronizer.loadLocalNoRepair: unparseable local payload treated as absent", "identity", identity, "error", err)
		return nil, false, nil
	}

	// A separately stored completion flag outranks the flag embedded in a
	// legacy payload shape.
	if flag, flagFound, flagErr := s.local.GetCompletionFlag(identity); flagErr == nil && flagFound {
		record.CompletionFlag = flag
	}

	record.Source = models.SourceLocal
	return record, true, nil
}

// mirrorLocal writes a remote-loaded record into the local store so the
// fallback path has fresh data. Best effort.
func (s *Synchronizer) mirrorLocal(identity string, record *models.PreferenceRecord) {
	payload, err := EncodePayload(record)
	if err != nil {
		slog.Error("Synchronizer.mirrorLocal: failed to encode record", "identity", identity, "error", err)
		return
	}
	if err := s.writeLocal(identity, payload, record.CompletionFlag); err != nil {
		slog.Warn("Synchronizer.mirrorLocal: local mirror write failed", "identity", identity, "error", err)
	}
}

func (s *Synchronizer) writeLocal(identity, payload string, completed bool) error {
	if err := s.local.SavePreferences(identity, payload); err != nil {
		return models.NewSyncError(models.ErrorCodeLocalWriteError, "failed to write local preferences", err)
	}
	if err := s.local.SetCompletionFlag(identity, completed); err != nil {
		return models.NewSyncError(models.ErrorCodeLocalWriteError, "failed to write local completion flag", err)
	}
	return nil
}

func (s *Synchronizer) purgeLocal(identity string) {
	if err := s.local.DeletePreferences(identity); err != nil {
		slog.Warn("Synchronizer.purgeLocal: failed to delete local preferences", "identity", identity, "error", err)
	}
	if err := s.local.DeleteCompletionFlag(identity); err != nil {
		slog.Warn("Synchronizer.purgeLocal: failed to delete local completion flag", "identity", identity, "error", err)
	}
	s.Invalidate(identity)
}

// mergePartial overlays a partial record's fields on the most recent known
// record for the identity.
func (s *Synchronizer) mergePartial(identity string, partial *models.PreferenceRecord) *models.PreferenceRecord {
	base, ok := func() (*models.PreferenceRecord, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		c, ok := s.cached[identity]
		return c, ok
	}()
	if !ok {
		if local, found, err := s.loadLocalNoRepair(identity); err == nil && found {
			base, ok = local, true
		}
	}
	if !ok {
		return partial
	}

	merged := &models.PreferenceRecord{
		Fields:         make(map[string]interface{}, len(base.Fields)+len(partial.Fields)),
		CompletionFlag: base.CompletionFlag || partial.CompletionFlag,
	}
	for k, v := range base.Fields {
		merged.Fields[k] = v
	}
	for k, v := range partial.Fields {
		merged.Fields[k] = v
	}
	return merged
}

// cache unconditionally installs a record as the identity's newest known
// state, superseding any load still in flight. Used after writes.
func (s *Synchronizer) cache(identity string, record *models.PreferenceRecord) {
	s.mu.Lock()
	s.cached[identity] = record
	s.loadSeq[identity]++
	s.mu.Unlock()
}

// install retains a load result only if no newer load, save, or invalidation
// for the identity happened since seq was captured. Reports whether the
// result was retained.
func (s *Synchronizer) install(identity string, seq uint64, record *models.PreferenceRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.loadSeq[identity] {
		return false
	}
	s.cached[identity] = record
	return true
}
