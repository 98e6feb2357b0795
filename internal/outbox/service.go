package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pastor-macsagun/drouple-sync/pkg/db/models"
	"github.com/pastor-macsagun/drouple-sync/pkg/enums"
	"github.com/pastor-macsagun/drouple-sync/pkg/errors"
	"github.com/pastor-macsagun/drouple-sync/pkg/logger"
	"github.com/pastor-macsagun/drouple-sync/pkg/metrics"
)

// Remote performs the delivery calls for queued mutations.
type Remote interface {
	Create(ctx context.Context, entity enums.EntityType, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error)
	Update(ctx context.Context, entity enums.EntityType, id string, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error)
	Delete(ctx context.Context, entity enums.EntityType, id string, idempotencyKey string) error
}

// CacheApplier replaces the optimistic local row with the server's
// authoritative record after a create or update is delivered. localID
// is the ID the entry was enqueued under, which may be a temporary
// client-assigned ID that the server response supersedes.
type CacheApplier interface {
	ApplyServerRecord(ctx context.Context, tx *gorm.DB, localID string, body json.RawMessage) error
}

// TxRunner runs a function inside a store transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Config bounds queue processing.
type Config struct {
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
}

type ServiceParams struct {
	Repo    *Repository
	Store   TxRunner
	Remote  Remote
	Logger  *logger.Logger
	Metrics *metrics.SyncMetrics
	Config  Config
}

// Service owns the write-ahead queue: repositories enqueue mutations
// through it, and a single consumer drains them to the remote service.
type Service struct {
	repo    *Repository
	store   TxRunner
	remote  Remote
	logg    *logger.Logger
	metrics *metrics.SyncMetrics
	cfg     Config

	now func() time.Time

	mu         sync.Mutex
	processing bool
	appliers   map[enums.EntityType]CacheApplier

	kick chan struct{}
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if params.Remote == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}

	return &Service{
		repo:     params.Repo,
		store:    params.Store,
		remote:   params.Remote,
		logg:     params.Logger,
		metrics:  params.Metrics,
		cfg:      cfg,
		now:      time.Now,
		appliers: make(map[enums.EntityType]CacheApplier),
		kick:     make(chan struct{}, 1),
	}, nil
}

// RegisterApplier wires the cache refresh for one entity type. Call
// during startup, before Start.
func (s *Service) RegisterApplier(entityType enums.EntityType, applier CacheApplier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appliers[entityType] = applier
}

// Enqueue validates and records a mutation inside the caller's
// transaction. The entry gets a fresh idempotency key that every retry
// of this mutation reuses. Returns the entry ID.
func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, entityType enums.EntityType, operation enums.OutboxOperation, entityID *string, payload json.RawMessage) (int64, error) {
	if !entityType.IsValid() {
		return 0, errors.New(errors.CodeValidation, fmt.Sprintf("unknown entity type %q", entityType))
	}
	if !operation.IsValid() {
		return 0, errors.New(errors.CodeValidation, fmt.Sprintf("unknown operation %q", operation))
	}
	if operation == enums.OperationDelete {
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
	} else if len(payload) == 0 || !json.Valid(payload) {
		return 0, errors.New(errors.CodeValidation, "payload must be valid json")
	}
	if operation != enums.OperationCreate && (entityID == nil || *entityID == "") {
		return 0, errors.New(errors.CodeValidation, "entity id is required")
	}

	entry := models.OutboxEntry{
		IdempotencyKey: uuid.NewString(),
		EntityType:     entityType,
		EntityID:       entityID,
		Operation:      operation,
		Payload:        payload,
		Status:         enums.OutboxPending,
	}
	if err := s.repo.Insert(tx, &entry); err != nil {
		return 0, errors.Wrap(errors.CodeStorage, err, "enqueue outbox entry")
	}
	return entry.ID, nil
}

// Kick signals the consumer loop that new work exists. Never blocks; a
// signal while one is already buffered is a no-op because the next pass
// drains everything due anyway.
func (s *Service) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start runs the single consumer loop until the context is canceled.
func (s *Service) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			if err := s.ProcessQueue(ctx); err != nil {
				s.logg.Error(ctx, "outbox pass failed", err)
			}
		}
	}
}

// ProcessQueue drains one batch of due entries in creation order. Only
// one pass runs at a time; a call that arrives while a pass is running
// returns immediately. Per-entry delivery failures are recorded on the
// entry and never abort the pass.
func (s *Service) ProcessQueue(ctx context.Context) error {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return nil
	}
	s.processing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
	}()

	for {
		entries, err := s.repo.FetchDue(ctx, s.now(), s.cfg.BatchSize)
		if err != nil {
			return errors.Wrap(errors.CodeStorage, err, "fetch due outbox entries")
		}
		if len(entries) == 0 {
			break
		}
		for i := range entries {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.processEntry(ctx, &entries[i])
		}
		if len(entries) < s.cfg.BatchSize {
			break
		}
	}

	if pending, err := s.repo.CountUnsynced(ctx); err == nil {
		s.metrics.SetPending(pending)
	}
	return nil
}

func (s *Service) processEntry(ctx context.Context, entry *models.OutboxEntry) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":   entry.ID,
		"entity_type": entry.EntityType,
		"operation":   entry.Operation,
		"attempt":     entry.RetryCount + 1,
	})

	if err := s.repo.MarkSyncing(ctx, entry.ID); err != nil {
		s.logg.Error(logCtx, "mark outbox entry syncing", err)
		return
	}

	body, err := s.deliver(ctx, entry)
	if err != nil {
		s.recordFailure(logCtx, entry, err)
		return
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if entry.Operation != enums.OperationDelete && len(body) > 0 {
			if applier := s.applierFor(entry.EntityType); applier != nil {
				if err := applier.ApplyServerRecord(ctx, tx, localID(entry), body); err != nil {
					return err
				}
			}
		}
		return s.repo.MarkSynced(tx, entry.ID)
	})
	if err != nil {
		s.recordFailure(logCtx, entry, errors.Wrap(errors.CodeStorage, err, "apply server record"))
		return
	}

	s.metrics.IncDelivery("synced")
	s.logg.Info(logCtx, "outbox entry synced")
}

func (s *Service) deliver(ctx context.Context, entry *models.OutboxEntry) (json.RawMessage, error) {
	switch entry.Operation {
	case enums.OperationCreate:
		return s.remote.Create(ctx, entry.EntityType, entry.Payload, entry.IdempotencyKey)
	case enums.OperationUpdate:
		return s.remote.Update(ctx, entry.EntityType, *entry.EntityID, entry.Payload, entry.IdempotencyKey)
	case enums.OperationDelete:
		return nil, s.remote.Delete(ctx, entry.EntityType, *entry.EntityID, entry.IdempotencyKey)
	default:
		return nil, errors.New(errors.CodeInternal, fmt.Sprintf("unknown operation %q", entry.Operation))
	}
}

func (s *Service) recordFailure(ctx context.Context, entry *models.OutboxEntry, cause error) {
	attempts := entry.RetryCount + 1

	if attempts >= s.cfg.MaxAttempts {
		if err := s.repo.MarkDead(ctx, entry.ID, attempts, cause.Error()); err != nil {
			s.logg.Error(ctx, "mark outbox entry dead", err)
			return
		}
		s.metrics.IncDelivery("dead")
		s.logg.Error(ctx, "outbox entry exhausted retries", cause)
		return
	}

	next := s.now().Add(s.backoff(attempts))
	if err := s.repo.MarkRetry(ctx, entry.ID, attempts, next, cause.Error()); err != nil {
		s.logg.Error(ctx, "mark outbox entry for retry", err)
		return
	}
	s.metrics.IncDelivery("retry")
	s.logg.Warn(s.logg.WithField(ctx, "next_retry_at", next), "outbox delivery failed")
}

// backoff doubles per attempt starting from the base: base, 2x, 4x, ...
func (s *Service) backoff(attempt int) time.Duration {
	delay := s.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (s *Service) applierFor(entityType enums.EntityType) CacheApplier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appliers[entityType]
}

func localID(entry *models.OutboxEntry) string {
	if entry.EntityID == nil {
		return ""
	}
	return *entry.EntityID
}

// EntityStatus summarizes an entity's outbox position for UI badges.
type EntityStatus struct {
	Status      string     `json:"status"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

const (
	StatusSynced  = "synced"
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// EntitySyncStatus reports where the entity's most recent mutation
// stands. An entity with no outbox history is synced.
func (s *Service) EntitySyncStatus(ctx context.Context, entityType enums.EntityType, entityID string) (EntityStatus, error) {
	entry, err := s.repo.LatestForEntity(ctx, entityType, entityID)
	if err != nil {
		return EntityStatus{}, errors.Wrap(errors.CodeStorage, err, "look up entity outbox state")
	}
	if entry == nil || entry.Status == enums.OutboxSynced {
		return EntityStatus{Status: StatusSynced}, nil
	}
	attempt := entry.UpdatedAt
	status := EntityStatus{Status: StatusPending, LastAttempt: &attempt, Error: entry.ErrorMessage}
	if entry.Status == enums.OutboxDead {
		status.Status = StatusFailed
	}
	return status, nil
}

// PendingCount counts every mutation that has not completed delivery,
// including dead entries awaiting a manual reset.
func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	count, err := s.repo.CountUnsynced(ctx)
	if err != nil {
		return 0, errors.Wrap(errors.CodeStorage, err, "count unsynced outbox entries")
	}
	return count, nil
}

// ClearSynced removes delivered entries older than the retention
// window.
func (s *Service) ClearSynced(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	removed, err := s.repo.DeleteSyncedBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(errors.CodeStorage, err, "clear synced outbox entries")
	}
	if removed > 0 {
		s.logg.Info(s.logg.WithField(ctx, "removed", removed), "outbox retention cleanup")
	}
	return removed, nil
}

// ResetFailed requeues every failed and dead entry and kicks a pass.
func (s *Service) ResetFailed(ctx context.Context) (int64, error) {
	reset, err := s.repo.ResetFailed(ctx)
	if err != nil {
		return 0, errors.Wrap(errors.CodeStorage, err, "reset failed outbox entries")
	}
	if reset > 0 {
		s.logg.Info(s.logg.WithField(ctx, "reset", reset), "failed outbox entries requeued")
		s.Kick()
	}
	return reset, nil
}

// ReconcileInFlight requeues entries the previous process left in
// syncing. Run once at startup before the consumer loop.
func (s *Service) ReconcileInFlight(ctx context.Context) error {
	reset, err := s.repo.ResetInFlight(ctx)
	if err != nil {
		return errors.Wrap(errors.CodeStorage, err, "reconcile in-flight outbox entries")
	}
	if reset > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "reset", reset), "requeued in-flight outbox entries from previous run")
	}
	return nil
}
