package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pastor-macsagun/drouple-sync/internal/outbox"
	"github.com/pastor-macsagun/drouple-sync/internal/syncstate"
	"github.com/pastor-macsagun/drouple-sync/pkg/db/models"
	"github.com/pastor-macsagun/drouple-sync/pkg/enums"
	apperrors "github.com/pastor-macsagun/drouple-sync/pkg/errors"
	"github.com/pastor-macsagun/drouple-sync/pkg/logger"
)

type fakeWriter struct {
	calls int32
	err   error
}

func (f *fakeWriter) Create(context.Context, enums.EntityType, json.RawMessage, string) (json.RawMessage, error) {
	atomic.AddInt32(&f.calls, 1)
	return json.RawMessage(`{"id":"srv-1"}`), f.err
}

func (f *fakeWriter) Update(context.Context, enums.EntityType, string, json.RawMessage, string) (json.RawMessage, error) {
	atomic.AddInt32(&f.calls, 1)
	return json.RawMessage(`{"id":"srv-1"}`), f.err
}

func (f *fakeWriter) Delete(context.Context, enums.EntityType, string, string) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

type txRunner struct {
	db *gorm.DB
}

func (r txRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type harness struct {
	svc    *Service
	box    *outbox.Service
	db     *gorm.DB
	writer *fakeWriter
}

func newHarness(t *testing.T, cfg Config, refreshers ...Refresher) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OutboxEntry{}, &models.SyncState{}))

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	writer := &fakeWriter{}
	box, err := outbox.NewService(outbox.ServiceParams{
		Repo:   outbox.NewRepository(db),
		Store:  txRunner{db: db},
		Remote: writer,
		Logger: logg,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Outbox:     box,
		SyncState:  syncstate.NewRepository(db),
		Refreshers: refreshers,
		Logger:     logg,
		Config:     cfg,
	})
	require.NoError(t, err)
	return &harness{svc: svc, box: box, db: db, writer: writer}
}

func TestPerformSyncSkipsWhenOffline(t *testing.T) {
	var refreshed int32
	h := newHarness(t, Config{AssumeOnline: false}, Refresher{
		Name:    "members",
		Refresh: func(context.Context) error { atomic.AddInt32(&refreshed, 1); return nil },
	})

	require.NoError(t, h.svc.PerformSync(context.Background(), TriggerManual))
	assert.Zero(t, atomic.LoadInt32(&refreshed))

	status, err := h.svc.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.LastSync)
}

func TestPerformSyncDrainsOutboxAndRefreshes(t *testing.T) {
	var refreshed int32
	h := newHarness(t, Config{AssumeOnline: true}, Refresher{
		Name:    "members",
		Refresh: func(context.Context) error { atomic.AddInt32(&refreshed, 1); return nil },
	}, Refresher{
		Name:    "events",
		Refresh: func(context.Context) error { atomic.AddInt32(&refreshed, 1); return nil },
	})
	ctx := context.Background()

	_, err := h.box.Enqueue(ctx, h.db, enums.EntityMembers, enums.OperationCreate, nil, json.RawMessage(`{"name":"Ana"}`))
	require.NoError(t, err)

	require.NoError(t, h.svc.PerformSync(ctx, TriggerManual))

	assert.Equal(t, int32(2), atomic.LoadInt32(&refreshed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.writer.calls))

	status, err := h.svc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastSync)
	require.NotNil(t, status.NextSync)
	assert.Zero(t, status.PendingItems)
	assert.Empty(t, status.SyncErrors)

	// Completion is recorded durably.
	state, err := syncstate.NewRepository(h.db).Get(ctx, "sync")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.NotNil(t, state.LastFullSync)
}

func TestRefreshFailureIsIsolated(t *testing.T) {
	var healthy int32
	h := newHarness(t, Config{AssumeOnline: true}, Refresher{
		Name:    "members",
		Refresh: func(context.Context) error { return apperrors.New(apperrors.CodeRemote, "timeout") },
	}, Refresher{
		Name:    "events",
		Refresh: func(context.Context) error { atomic.AddInt32(&healthy, 1); return nil },
	})
	ctx := context.Background()

	require.NoError(t, h.svc.PerformSync(ctx, TriggerTimer))

	assert.Equal(t, int32(1), atomic.LoadInt32(&healthy))

	status, err := h.svc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastSync)
	require.Len(t, status.SyncErrors, 1)
	assert.Contains(t, status.SyncErrors[0], "members")
}

func TestErrorsClearedAtStartOfNextPass(t *testing.T) {
	var fail int32 = 1
	h := newHarness(t, Config{AssumeOnline: true}, Refresher{
		Name: "members",
		Refresh: func(context.Context) error {
			if atomic.LoadInt32(&fail) == 1 {
				return apperrors.New(apperrors.CodeRemote, "timeout")
			}
			return nil
		},
	})
	ctx := context.Background()

	require.NoError(t, h.svc.PerformSync(ctx, TriggerTimer))
	status, err := h.svc.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.SyncErrors, 1)

	atomic.StoreInt32(&fail, 0)
	require.NoError(t, h.svc.PerformSync(ctx, TriggerTimer))
	status, err = h.svc.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.SyncErrors)
}

func TestOverlappingPassIsNoOp(t *testing.T) {
	var refreshed int32
	h := newHarness(t, Config{AssumeOnline: true}, Refresher{
		Name:    "members",
		Refresh: func(context.Context) error { atomic.AddInt32(&refreshed, 1); return nil },
	})

	h.svc.mu.Lock()
	h.svc.syncing = true
	h.svc.mu.Unlock()

	require.NoError(t, h.svc.PerformSync(context.Background(), TriggerManual))
	assert.Zero(t, atomic.LoadInt32(&refreshed))
}

func TestStatusDoesNotTriggerSync(t *testing.T) {
	var refreshed int32
	h := newHarness(t, Config{AssumeOnline: true}, Refresher{
		Name:    "members",
		Refresh: func(context.Context) error { atomic.AddInt32(&refreshed, 1); return nil },
	})

	_, err := h.svc.Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&refreshed))
	assert.Empty(t, h.svc.force)
}

func TestReconnectTriggersExactlyOnce(t *testing.T) {
	h := newHarness(t, Config{AssumeOnline: true})

	// Already online: no trigger.
	h.svc.SetOnline(true)
	assert.Empty(t, h.svc.force)

	h.svc.SetOnline(false)
	h.svc.SetOnline(true)
	assert.Len(t, h.svc.force, 1)
	assert.Equal(t, TriggerConnectivity, <-h.svc.force)
}

func TestOnDemandTriggersCollapse(t *testing.T) {
	h := newHarness(t, Config{AssumeOnline: true})

	h.svc.ForceSync()
	h.svc.ForceSync()
	h.svc.OnForeground()
	assert.Len(t, h.svc.force, 1)
}

func TestPauseSuppressesTimerOnly(t *testing.T) {
	var refreshed int32
	h := newHarness(t, Config{AssumeOnline: true, StartPaused: true}, Refresher{
		Name:    "members",
		Refresh: func(context.Context) error { atomic.AddInt32(&refreshed, 1); return nil },
	})

	assert.False(t, h.svc.timerEnabled())

	// Manual sync still works while paused.
	require.NoError(t, h.svc.PerformSync(context.Background(), TriggerManual))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshed))

	h.svc.Resume()
	assert.True(t, h.svc.timerEnabled())
}

func TestRunHonorsCancellation(t *testing.T) {
	h := newHarness(t, Config{AssumeOnline: true, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.svc.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
