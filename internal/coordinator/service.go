package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/pastor-macsagun/drouple-sync/internal/outbox"
	"github.com/pastor-macsagun/drouple-sync/internal/syncstate"
	"github.com/pastor-macsagun/drouple-sync/pkg/errors"
	"github.com/pastor-macsagun/drouple-sync/pkg/logger"
	"github.com/pastor-macsagun/drouple-sync/pkg/metrics"
)

// fullSyncKey is the sync metadata row that records pass completion.
const fullSyncKey = "sync"

// Trigger names are metric labels as well as log fields.
const (
	TriggerTimer        = "timer"
	TriggerConnectivity = "connectivity"
	TriggerForeground   = "foreground"
	TriggerManual       = "manual"
)

// Refresher is one entity cache refresh the coordinator runs during a
// pass. Refreshes run concurrently and their failures are isolated.
type Refresher struct {
	Name    string
	Refresh func(ctx context.Context) error
}

// Config bounds the coordinator's schedule and housekeeping.
type Config struct {
	Interval      time.Duration
	RetentionDays int
	StartPaused   bool
	// AssumeOnline sets the initial connectivity state before the
	// first connectivity callback arrives.
	AssumeOnline bool
}

type ServiceParams struct {
	Outbox     *outbox.Service
	SyncState  *syncstate.Repository
	Refreshers []Refresher
	Logger     *logger.Logger
	Metrics    *metrics.SyncMetrics
	Config     Config
}

// SyncStatus is a point-in-time view of sync health. Reading it never
// triggers a sync.
type SyncStatus struct {
	IsActive     bool       `json:"isActive"`
	IsOnline     bool       `json:"isOnline"`
	Paused       bool       `json:"paused"`
	LastSync     *time.Time `json:"lastSync,omitempty"`
	NextSync     *time.Time `json:"nextSync,omitempty"`
	PendingItems int64      `json:"pendingItems"`
	SyncErrors   []string   `json:"syncErrors,omitempty"`
}

// Service decides when outbox draining and cache refreshes run: on a
// coarse timer, on reconnect, on foregrounding, and on demand. Passes
// are serialized; a trigger arriving mid-pass is dropped, not queued.
type Service struct {
	outbox     *outbox.Service
	syncState  *syncstate.Repository
	refreshers []Refresher
	logg       *logger.Logger
	metrics    *metrics.SyncMetrics
	cfg        Config

	now func() time.Time

	mu       sync.Mutex
	online   bool
	paused   bool
	syncing  bool
	lastSync *time.Time
	nextSync *time.Time
	errs     []string

	force chan string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service is required")
	}
	if params.SyncState == nil {
		return nil, fmt.Errorf("sync state repository is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	cfg := params.Config
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}

	return &Service{
		outbox:     params.Outbox,
		syncState:  params.SyncState,
		refreshers: params.Refreshers,
		logg:       params.Logger,
		metrics:    params.Metrics,
		cfg:        cfg,
		now:        time.Now,
		online:     cfg.AssumeOnline,
		paused:     cfg.StartPaused,
		force:      make(chan string, 1),
	}, nil
}

// Run drives the timer trigger and drains on-demand triggers until the
// context is canceled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.timerEnabled() {
				s.runPass(ctx, TriggerTimer)
			}
		case trigger := <-s.force:
			s.runPass(ctx, trigger)
		}
	}
}

// timerEnabled reports whether the periodic trigger may fire. Pausing
// suppresses only the timer; connectivity, foreground, and manual
// triggers keep working so user-visible actions stay responsive.
func (s *Service) timerEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.paused
}

func (s *Service) runPass(ctx context.Context, trigger string) {
	if err := s.PerformSync(ctx, trigger); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "trigger", trigger), "sync pass failed", err)
	}
}

// SetOnline records a connectivity change. Coming back online triggers
// a pass; going offline only updates state.
func (s *Service) SetOnline(online bool) {
	s.mu.Lock()
	wasOnline := s.online
	s.online = online
	s.mu.Unlock()

	if online && !wasOnline {
		s.request(TriggerConnectivity)
	}
}

// OnForeground triggers a pass when the app returns to the foreground.
func (s *Service) OnForeground() {
	s.request(TriggerForeground)
}

// ForceSync triggers a pass on demand (pull-to-refresh, manual retry).
func (s *Service) ForceSync() {
	s.request(TriggerManual)
}

// request hands a trigger to the Run loop without blocking. A trigger
// while one is already buffered collapses into it.
func (s *Service) request(trigger string) {
	select {
	case s.force <- trigger:
	default:
	}
}

// Pause suppresses the timer trigger without touching outbox state.
func (s *Service) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables the timer trigger.
func (s *Service) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// PerformSync runs one full pass: drain the outbox, refresh every
// entity cache concurrently with failures isolated, run outbox
// housekeeping, and record completion. Offline is a skip, not an
// error. A pass arriving while one is in flight is a no-op.
func (s *Service) PerformSync(ctx context.Context, trigger string) error {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil
	}
	if !s.online {
		s.mu.Unlock()
		return nil
	}
	s.syncing = true
	s.errs = nil
	s.mu.Unlock()

	started := s.now()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
		s.metrics.ObservePass(trigger, s.now().Sub(started))
	}()

	logCtx := s.logg.WithField(ctx, "trigger", trigger)

	if err := s.outbox.ProcessQueue(ctx); err != nil {
		// A failed drain means the store itself is broken; the pass
		// cannot continue meaningfully.
		s.recordError("outbox: " + err.Error())
		s.metrics.IncPassResult("error")
		return err
	}

	if err := s.refreshAll(ctx); err != nil {
		s.logg.Warn(logCtx, "entity refresh incomplete: "+err.Error())
	}

	if _, err := s.outbox.ClearSynced(ctx, s.cfg.RetentionDays); err != nil {
		s.recordError("housekeeping: " + err.Error())
	}

	completed := s.now()
	if err := s.syncState.RecordFullSync(ctx, fullSyncKey, completed); err != nil {
		s.recordError("record completion: " + err.Error())
		s.metrics.IncPassResult("error")
		return errors.Wrap(errors.CodeStorage, err, "record sync completion")
	}

	next := completed.Add(s.cfg.Interval)
	s.mu.Lock()
	s.lastSync = &completed
	s.nextSync = &next
	hadErrors := len(s.errs) > 0
	s.mu.Unlock()

	if hadErrors {
		s.metrics.IncPassResult("partial")
	} else {
		s.metrics.IncPassResult("ok")
	}
	s.logg.Info(logCtx, "sync pass complete")
	return nil
}

// refreshAll runs every registered refresher concurrently. Each
// failure is recorded and isolated; the combined error is returned for
// logging only.
func (s *Service) refreshAll(ctx context.Context) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined error
	)
	for _, refresher := range s.refreshers {
		wg.Add(1)
		go func(r Refresher) {
			defer wg.Done()
			if err := r.Refresh(ctx); err != nil {
				s.recordError(r.Name + ": " + err.Error())
				mu.Lock()
				joined = multierr.Append(joined, fmt.Errorf("%s: %w", r.Name, err))
				mu.Unlock()
			}
		}(refresher)
	}
	wg.Wait()
	return joined
}

func (s *Service) recordError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, message)
}

// Status aggregates current sync health without triggering a pass.
func (s *Service) Status(ctx context.Context) (SyncStatus, error) {
	pending, err := s.outbox.PendingCount(ctx)
	if err != nil {
		return SyncStatus{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	status := SyncStatus{
		IsActive:     s.syncing,
		IsOnline:     s.online,
		Paused:       s.paused,
		LastSync:     s.lastSync,
		NextSync:     s.nextSync,
		PendingItems: pending,
	}
	status.SyncErrors = append(status.SyncErrors, s.errs...)
	return status, nil
}
