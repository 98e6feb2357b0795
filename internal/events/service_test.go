package events

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pastor-macsagun/drouple-sync/internal/outbox"
	"github.com/pastor-macsagun/drouple-sync/internal/repo"
	"github.com/pastor-macsagun/drouple-sync/internal/syncstate"
	"github.com/pastor-macsagun/drouple-sync/pkg/db/models"
	"github.com/pastor-macsagun/drouple-sync/pkg/enums"
	apperrors "github.com/pastor-macsagun/drouple-sync/pkg/errors"
	"github.com/pastor-macsagun/drouple-sync/pkg/logger"
	"github.com/pastor-macsagun/drouple-sync/pkg/remote"
)

type fakeReader struct {
	listResult remote.ListResult
	listErr    error
	lastQuery  url.Values
}

func (f *fakeReader) List(_ context.Context, _ enums.EntityType, query url.Values, _ string) (remote.ListResult, error) {
	f.lastQuery = query
	return f.listResult, f.listErr
}

func (f *fakeReader) Get(context.Context, enums.EntityType, string) (json.RawMessage, error) {
	return nil, apperrors.New(apperrors.CodeRemote, "offline")
}

type fakeWriter struct {
	response json.RawMessage
	err      error
}

func (f *fakeWriter) Create(context.Context, enums.EntityType, json.RawMessage, string) (json.RawMessage, error) {
	return f.response, f.err
}

func (f *fakeWriter) Update(context.Context, enums.EntityType, string, json.RawMessage, string) (json.RawMessage, error) {
	return f.response, f.err
}

func (f *fakeWriter) Delete(context.Context, enums.EntityType, string, string) error {
	return f.err
}

type txRunner struct {
	db *gorm.DB
}

func (r txRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

var testScope = repo.Scope{TenantID: "tenant-1", ChurchID: "church-1"}

func newTestService(t *testing.T, reader *fakeReader, writer *fakeWriter) (*Service, *outbox.Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Event{}, &models.OutboxEntry{}, &models.SyncState{}))

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	if writer == nil {
		writer = &fakeWriter{}
	}
	box, err := outbox.NewService(outbox.ServiceParams{
		Repo:   outbox.NewRepository(db),
		Store:  txRunner{db: db},
		Remote: writer,
		Logger: logg,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:      NewRepository(db, testScope),
		SyncState: syncstate.NewRepository(db),
		Outbox:    box,
		Remote:    reader,
		Store:     txRunner{db: db},
		Logger:    logg,
		Scope:     testScope,
	})
	require.NoError(t, err)
	box.RegisterApplier(enums.EntityEvents, svc)
	return svc, box, db
}

func seedEvent(t *testing.T, db *gorm.DB, id, title string, startsAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.Event{
		ID: id, TenantID: testScope.TenantID, ChurchID: testScope.ChurchID,
		Title: title, StartsAt: startsAt,
	}).Error)
}

func TestListFallsBackToCacheOnNetworkError(t *testing.T) {
	reader := &fakeReader{listErr: apperrors.New(apperrors.CodeRemote, "connection refused")}
	svc, _, db := newTestService(t, reader, nil)
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	seedEvent(t, db, "e-1", "Sunday Service", base)
	seedEvent(t, db, "e-2", "Youth Night", base.AddDate(0, 0, 2))
	seedEvent(t, db, "e-3", "Prayer Meeting", base.AddDate(0, 0, 4))

	rows, err := svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	// Soonest first.
	assert.Equal(t, "e-1", rows[0].ID)
}

func TestListRangeFilterAppliesToCacheAndQuery(t *testing.T) {
	reader := &fakeReader{listErr: apperrors.New(apperrors.CodeRemote, "offline")}
	svc, _, db := newTestService(t, reader, nil)
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	seedEvent(t, db, "e-1", "Before", base.AddDate(0, 0, -7))
	seedEvent(t, db, "e-2", "Inside", base.AddDate(0, 0, 1))
	seedEvent(t, db, "e-3", "After", base.AddDate(0, 0, 30))

	to := base.AddDate(0, 0, 7)
	rows, err := svc.List(context.Background(), ListFilter{From: &base, To: &to})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "e-2", rows[0].ID)
	assert.Equal(t, base.Format(time.RFC3339), reader.lastQuery.Get("from"))
}

func TestRefreshOverwritesCacheWholesale(t *testing.T) {
	reader := &fakeReader{listResult: remote.ListResult{
		Items: []json.RawMessage{
			json.RawMessage(`{"id":"e-1","title":"Sunday Service (moved)","startsAt":"2026-04-05T09:00:00Z"}`),
		},
		ETag: `"v2"`,
	}}
	svc, _, db := newTestService(t, reader, nil)
	ctx := context.Background()

	seedEvent(t, db, "e-1", "Sunday Service", time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))

	rows, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Sunday Service (moved)", rows[0].Title)
	assert.Equal(t, 5, rows[0].StartsAt.Day())
}

func TestUpcomingIsCacheOnly(t *testing.T) {
	svc, _, db := newTestService(t, &fakeReader{}, nil)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	seedEvent(t, db, "e-past", "Past", now.AddDate(0, 0, -1))
	seedEvent(t, db, "e-soon", "Soon", now.Add(2*time.Hour))
	seedEvent(t, db, "e-later", "Later", now.AddDate(0, 0, 3))

	rows, err := svc.Upcoming(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "e-soon", rows[0].ID)
	assert.Equal(t, "e-later", rows[1].ID)
}

func TestCreateRejectsInvertedSchedule(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeReader{}, nil)
	starts := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	ends := starts.Add(-time.Hour)

	_, err := svc.Create(context.Background(), CreateInput{
		Title: "Backwards", StartsAt: starts, EndsAt: &ends,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestCreateThenDeliveryReplacesTemporaryRow(t *testing.T) {
	writer := &fakeWriter{response: json.RawMessage(`{"id":"srv-evt-1","title":"Youth Night","startsAt":"2026-04-12T18:00:00Z"}`)}
	svc, box, db := newTestService(t, &fakeReader{}, writer)
	ctx := context.Background()

	tempID, err := svc.Create(ctx, CreateInput{
		Title: "Youth Night", StartsAt: time.Date(2026, 4, 12, 18, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, repo.IsLocalID(tempID))

	require.NoError(t, box.ProcessQueue(ctx))

	var count int64
	require.NoError(t, db.Model(&models.Event{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	event, err := svc.GetByID(ctx, "srv-evt-1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "Youth Night", event.Title)
}

func TestUpdateQueuesOnlyChangedFields(t *testing.T) {
	svc, _, db := newTestService(t, &fakeReader{}, &fakeWriter{err: apperrors.New(apperrors.CodeRemote, "offline")})
	ctx := context.Background()

	seedEvent(t, db, "e-1", "Sunday Service", time.Date(2026, 4, 5, 9, 0, 0, 0, time.UTC))

	location := "Main Hall"
	require.NoError(t, svc.Update(ctx, "e-1", UpdateInput{Location: &location}))

	var entry models.OutboxEntry
	require.NoError(t, db.First(&entry).Error)
	assert.JSONEq(t, `{"location":"Main Hall"}`, string(entry.Payload))

	var event models.Event
	require.NoError(t, db.First(&event, "id = ?", "e-1").Error)
	assert.Equal(t, "Main Hall", event.Location)
	assert.Equal(t, "Sunday Service", event.Title)
}
