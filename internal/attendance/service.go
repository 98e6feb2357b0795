package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/pastor-macsagun/drouple-sync/internal/outbox"
	"github.com/pastor-macsagun/drouple-sync/internal/repo"
	"github.com/pastor-macsagun/drouple-sync/internal/syncstate"
	"github.com/pastor-macsagun/drouple-sync/pkg/db/models"
	"github.com/pastor-macsagun/drouple-sync/pkg/enums"
	"github.com/pastor-macsagun/drouple-sync/pkg/errors"
	"github.com/pastor-macsagun/drouple-sync/pkg/logger"
)

type ServiceParams struct {
	Repo      *Repository
	SyncState *syncstate.Repository
	Outbox    *outbox.Service
	Remote    repo.RemoteReader
	Store     outbox.TxRunner
	Logger    *logger.Logger
	Scope     repo.Scope
}

// Service is the attendance read/write API. Check-ins land in the
// cache immediately and queue for background delivery; the day-based
// helpers read only the cache.
type Service struct {
	repo      *Repository
	syncState *syncstate.Repository
	outbox    *outbox.Service
	remote    repo.RemoteReader
	store     outbox.TxRunner
	logg      *logger.Logger
	scope     repo.Scope
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil || params.SyncState == nil || params.Outbox == nil ||
		params.Remote == nil || params.Store == nil || params.Logger == nil {
		return nil, fmt.Errorf("attendance service: missing dependency")
	}
	return &Service{
		repo:      params.Repo,
		syncState: params.SyncState,
		outbox:    params.Outbox,
		remote:    params.Remote,
		store:     params.Store,
		logg:      params.Logger,
		scope:     params.Scope,
		validate:  validator.New(),
		now:       time.Now,
	}, nil
}

// dayBounds converts one device-local calendar day into a half-open
// UTC window. A check-in at 23:59:59 local time belongs to that local
// day regardless of how it falls in UTC.
func dayBounds(t time.Time) (time.Time, time.Time) {
	year, month, day := t.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, t.Location())
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// List serves records from the cache after attempting a conditional
// remote refresh.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.AttendanceRecord, error) {
	if err := s.Refresh(ctx, filter); err != nil {
		s.logg.Warn(s.logg.WithEntityType(ctx, string(enums.EntityAttendance)), "attendance refresh failed, serving cache")
	}
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "list cached attendance")
	}
	return rows, nil
}

// Refresh performs one conditional fetch against the attendance
// resource.
func (s *Service) Refresh(ctx context.Context, filter ListFilter) error {
	etag, err := s.syncState.ETag(ctx, string(enums.EntityAttendance))
	if err != nil {
		return errors.Wrap(errors.CodeStorage, err, "read attendance etag")
	}

	result, err := s.remote.List(ctx, enums.EntityAttendance, s.query(filter), etag)
	if err != nil {
		return err
	}
	if result.NotModified {
		return nil
	}

	fetchedAt := s.now()
	rows := make([]models.AttendanceRecord, 0, len(result.Items))
	for _, item := range result.Items {
		var record models.AttendanceRecord
		if err := json.Unmarshal(item, &record); err != nil {
			return errors.Wrap(errors.CodeRemote, err, "decode attendance record")
		}
		if record.ID == "" {
			continue
		}
		s.applyScopeDefaults(&record)
		record.LastSynced = fetchedAt
		rows = append(rows, record)
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.UpsertBatch(tx, rows); err != nil {
			return err
		}
		return s.syncState.RecordFetch(tx, string(enums.EntityAttendance), result.ETag, nil, fetchedAt)
	})
	if err != nil {
		return errors.Wrap(errors.CodeStorage, err, "store fetched attendance")
	}
	return nil
}

// CheckIn writes an optimistic record under a temporary ID and queues
// the create atomically. Returns the temporary ID.
func (s *Service) CheckIn(ctx context.Context, input CheckInInput) (string, error) {
	if err := s.validate.Struct(input); err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "validate check-in")
	}
	checkedInAt := s.now()
	if input.CheckedInAt != nil {
		checkedInAt = *input.CheckedInAt
	}
	normalized := input
	normalized.CheckedInAt = &checkedInAt
	payload, err := json.Marshal(normalized)
	if err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "encode check-in")
	}

	id := repo.NewLocalID()
	record := models.AttendanceRecord{
		ID:          id,
		TenantID:    s.scope.TenantID,
		ChurchID:    s.scope.ChurchID,
		MemberID:    input.MemberID,
		EventID:     input.EventID,
		ServiceName: input.ServiceName,
		CheckedInAt: checkedInAt.UTC(),
		IsNewComer:  input.IsNewComer,
		LastSynced:  s.now(),
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Insert(tx, &record); err != nil {
			return errors.Wrap(errors.CodeStorage, err, "insert optimistic check-in")
		}
		_, err := s.outbox.Enqueue(ctx, tx, enums.EntityAttendance, enums.OperationCreate, &id, payload)
		return err
	})
	if err != nil {
		return "", err
	}
	s.outbox.Kick()
	return id, nil
}

// Update corrects a recorded check-in locally and queues the delta.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) error {
	if err := s.validate.Struct(input); err != nil {
		return errors.Wrap(errors.CodeValidation, err, "validate attendance update")
	}
	changes := input.changes()
	if len(changes) == 0 {
		return errors.New(errors.CodeValidation, "no fields to update")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return errors.Wrap(errors.CodeValidation, err, "encode attendance update")
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		affected, err := s.repo.ApplyPartial(tx, id, changes)
		if err != nil {
			return errors.Wrap(errors.CodeStorage, err, "apply attendance update")
		}
		if affected == 0 {
			return errors.New(errors.CodeNotFound, fmt.Sprintf("attendance record %s not cached", id))
		}
		_, err = s.outbox.Enqueue(ctx, tx, enums.EntityAttendance, enums.OperationUpdate, &id, payload)
		return err
	})
	if err != nil {
		return err
	}
	s.outbox.Kick()
	return nil
}

// Delete undoes a check-in: the delete intent is queued before the row
// disappears, in the same transaction.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.outbox.Enqueue(ctx, tx, enums.EntityAttendance, enums.OperationDelete, &id, nil); err != nil {
			return err
		}
		if err := s.repo.Delete(tx, id); err != nil {
			return errors.Wrap(errors.CodeStorage, err, "remove cached check-in")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.outbox.Kick()
	return nil
}

// IsCheckedInToday reports whether the member has a check-in during the
// current device-local day. Cache-only.
func (s *Service) IsCheckedInToday(ctx context.Context, memberID string) (bool, error) {
	from, to := dayBounds(s.now())
	ok, err := s.repo.ExistsForMemberBetween(ctx, memberID, from, to)
	if err != nil {
		return false, errors.Wrap(errors.CodeStorage, err, "check today's attendance")
	}
	return ok, nil
}

// TodayStats aggregates the current device-local day. Cache-only.
func (s *Service) TodayStats(ctx context.Context) (Stats, error) {
	from, to := dayBounds(s.now())
	stats, err := s.repo.StatsBetween(ctx, from, to)
	if err != nil {
		return Stats{}, errors.Wrap(errors.CodeStorage, err, "aggregate today's attendance")
	}
	return stats, nil
}

// ExportRange joins cached attendance with member details across an
// inclusive device-local day range. Cache-only.
func (s *Service) ExportRange(ctx context.Context, fromDay, toDay time.Time) ([]ExportRow, error) {
	from, _ := dayBounds(fromDay)
	_, to := dayBounds(toDay)
	rows, err := s.repo.ExportBetween(ctx, from, to)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "export attendance range")
	}
	return rows, nil
}

// SyncStatus reports where the record's latest queued mutation stands.
func (s *Service) SyncStatus(ctx context.Context, id string) (outbox.EntityStatus, error) {
	return s.outbox.EntitySyncStatus(ctx, enums.EntityAttendance, id)
}

// ApplyServerRecord reconciles a delivered check-in with the server's
// authoritative record.
func (s *Service) ApplyServerRecord(ctx context.Context, tx *gorm.DB, localID string, body json.RawMessage) error {
	var record models.AttendanceRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return fmt.Errorf("decode server attendance record: %w", err)
	}
	if record.ID == "" {
		return fmt.Errorf("server attendance record missing id")
	}
	s.applyScopeDefaults(&record)
	record.LastSynced = s.now()

	if localID != "" && localID != record.ID {
		if err := s.repo.Delete(tx, localID); err != nil {
			return err
		}
	}
	return s.repo.Upsert(tx, &record)
}

func (s *Service) applyScopeDefaults(record *models.AttendanceRecord) {
	if record.TenantID == "" {
		record.TenantID = s.scope.TenantID
	}
	if record.ChurchID == "" {
		record.ChurchID = s.scope.ChurchID
	}
}

func (s *Service) query(filter ListFilter) url.Values {
	query := url.Values{}
	if filter.MemberID != "" {
		query.Set("memberId", filter.MemberID)
	}
	if filter.EventID != "" {
		query.Set("eventId", filter.EventID)
	}
	if filter.From != nil {
		query.Set("from", filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		query.Set("to", filter.To.UTC().Format(time.RFC3339))
	}
	return query
}
