package attendance

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
}

func (f *fakeReader) List(context.Context, enums.EntityType, url.Values, string) (remote.ListResult, error) {
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

func newTestService(t *testing.T, reader *fakeReader, writer *fakeWriter) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.AttendanceRecord{}, &models.Member{}, &models.OutboxEntry{}, &models.SyncState{},
	))

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	if writer == nil {
		writer = &fakeWriter{err: apperrors.New(apperrors.CodeRemote, "offline")}
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
	box.RegisterApplier(enums.EntityAttendance, svc)
	return svc, db
}

func seedRecord(t *testing.T, db *gorm.DB, id, memberID string, checkedInAt time.Time, newComer bool) {
	t.Helper()
	require.NoError(t, db.Create(&models.AttendanceRecord{
		ID: id, TenantID: testScope.TenantID, ChurchID: testScope.ChurchID,
		MemberID: memberID, CheckedInAt: checkedInAt.UTC(), IsNewComer: newComer,
	}).Error)
}

func TestIsCheckedInTodayUsesDeviceLocalDay(t *testing.T) {
	svc, db := newTestService(t, &fakeReader{}, nil)
	ctx := context.Background()

	// Device in UTC+8: local "today" is 2026-01-15.
	manila := time.FixedZone("UTC+8", 8*60*60)
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, manila)
	svc.now = func() time.Time { return now }

	// 23:59:59 local on the 15th is 15:59:59Z: still today.
	lateToday := time.Date(2026, 1, 15, 23, 59, 59, 0, manila)
	seedRecord(t, db, "a-1", "member-123", lateToday, false)

	ok, err := svc.IsCheckedInToday(ctx, "member-123")
	require.NoError(t, err)
	assert.True(t, ok)

	// Yesterday local: outside today's window.
	yesterday := time.Date(2026, 1, 14, 9, 0, 0, 0, manila)
	seedRecord(t, db, "a-2", "member-456", yesterday, false)

	ok, err = svc.IsCheckedInToday(ctx, "member-456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTodayStatsCountsNewComers(t *testing.T) {
	svc, db := newTestService(t, &fakeReader{}, nil)
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	seedRecord(t, db, "a-1", "m-1", now.Add(-time.Hour), false)
	seedRecord(t, db, "a-2", "m-2", now.Add(-2*time.Hour), true)
	seedRecord(t, db, "a-3", "m-3", now.AddDate(0, 0, -1), true)

	stats, err := svc.TodayStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.NewComers)
}

func TestCheckInIsOptimisticallyVisible(t *testing.T) {
	svc, db := newTestService(t, &fakeReader{}, nil)
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	id, err := svc.CheckIn(ctx, CheckInInput{MemberID: "member-123", ServiceName: "Sunday 9AM"})
	require.NoError(t, err)
	assert.True(t, repo.IsLocalID(id))

	ok, err := svc.IsCheckedInToday(ctx, "member-123")
	require.NoError(t, err)
	assert.True(t, ok)

	var entry models.OutboxEntry
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, enums.OperationCreate, entry.Operation)
	// The queued payload pins the check-in time.
	assert.Contains(t, string(entry.Payload), "checkedInAt")
}

func TestCheckInRequiresMember(t *testing.T) {
	svc, _ := newTestService(t, &fakeReader{}, nil)

	_, err := svc.CheckIn(context.Background(), CheckInInput{ServiceName: "Sunday 9AM"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestExportRangeJoinsMemberDetails(t *testing.T) {
	svc, db := newTestService(t, &fakeReader{}, nil)
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&models.Member{
		ID: "m-1", TenantID: testScope.TenantID, ChurchID: testScope.ChurchID,
		Name: "Ana Reyes", Email: "ana@example.com",
	}).Error)
	seedRecord(t, db, "a-1", "m-1", day.Add(9*time.Hour), false)
	seedRecord(t, db, "a-2", "m-unknown", day.Add(10*time.Hour), true)
	seedRecord(t, db, "a-3", "m-1", day.AddDate(0, 0, 5), false)

	rows, err := svc.ExportRange(context.Background(), day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Ana Reyes", rows[0].MemberName)
	assert.Equal(t, "ana@example.com", rows[0].MemberEmail)
	// Uncached member still exports, without details.
	assert.Equal(t, "m-unknown", rows[1].MemberID)
	assert.Empty(t, rows[1].MemberName)
	assert.True(t, rows[1].IsNewComer)
}

func TestListFallsBackToCacheOnRemoteFailure(t *testing.T) {
	reader := &fakeReader{listErr: apperrors.New(apperrors.CodeRemote, "timeout")}
	svc, db := newTestService(t, reader, nil)
	now := time.Now().UTC()

	seedRecord(t, db, "a-1", "m-1", now, false)
	seedRecord(t, db, "a-2", "m-2", now.Add(-time.Hour), false)

	rows, err := svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRefreshStoresFetchedRecords(t *testing.T) {
	reader := &fakeReader{listResult: remote.ListResult{
		Items: []json.RawMessage{
			json.RawMessage(`{"id":"srv-a-1","memberId":"m-1","checkedInAt":"2026-01-15T09:00:00Z"}`),
		},
		ETag: `"att-v1"`,
	}}
	svc, db := newTestService(t, reader, nil)
	ctx := context.Background()

	rows, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m-1", rows[0].MemberID)

	etag, err := syncstate.NewRepository(db).ETag(ctx, "attendance")
	require.NoError(t, err)
	assert.Equal(t, `"att-v1"`, etag)
}
