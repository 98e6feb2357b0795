package events

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

// Service is the event read/write API over the cache, outbox, and
// remote client.
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
		return nil, fmt.Errorf("events service: missing dependency")
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

// List serves events from the cache after attempting a conditional
// remote refresh; remote failures fall back to the cache.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.Event, error) {
	if err := s.Refresh(ctx, filter); err != nil {
		s.logg.Warn(s.logg.WithEntityType(ctx, string(enums.EntityEvents)), "event refresh failed, serving cache")
	}
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "list cached events")
	}
	return rows, nil
}

// Upcoming is a cache-only read of events that have not started.
func (s *Service) Upcoming(ctx context.Context, limit int) ([]models.Event, error) {
	rows, err := s.repo.Upcoming(ctx, s.now(), limit)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "list upcoming events")
	}
	return rows, nil
}

// Refresh performs one conditional fetch against the events resource.
func (s *Service) Refresh(ctx context.Context, filter ListFilter) error {
	etag, err := s.syncState.ETag(ctx, string(enums.EntityEvents))
	if err != nil {
		return errors.Wrap(errors.CodeStorage, err, "read events etag")
	}

	result, err := s.remote.List(ctx, enums.EntityEvents, s.query(filter), etag)
	if err != nil {
		return err
	}
	if result.NotModified {
		return nil
	}

	fetchedAt := s.now()
	rows := make([]models.Event, 0, len(result.Items))
	for _, item := range result.Items {
		var event models.Event
		if err := json.Unmarshal(item, &event); err != nil {
			return errors.Wrap(errors.CodeRemote, err, "decode event record")
		}
		if event.ID == "" {
			continue
		}
		s.applyScopeDefaults(&event)
		event.LastSynced = fetchedAt
		rows = append(rows, event)
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.UpsertBatch(tx, rows); err != nil {
			return err
		}
		return s.syncState.RecordFetch(tx, string(enums.EntityEvents), result.ETag, nil, fetchedAt)
	})
	if err != nil {
		return errors.Wrap(errors.CodeStorage, err, "store fetched events")
	}
	return nil
}

// GetByID is cache-first with a single remote lookup fallback.
func (s *Service) GetByID(ctx context.Context, id string) (*models.Event, error) {
	cached, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "read cached event")
	}
	if cached != nil {
		return cached, nil
	}
	if repo.IsLocalID(id) {
		return nil, nil
	}

	body, err := s.remote.Get(ctx, enums.EntityEvents, id)
	if err != nil {
		if !errors.IsCode(err, errors.CodeNotFound) {
			s.logg.Warn(s.logg.WithEntityID(ctx, id), "event lookup failed")
		}
		return nil, nil
	}

	var event models.Event
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" {
		s.logg.Warn(s.logg.WithEntityID(ctx, id), "event record undecodable")
		return nil, nil
	}
	s.applyScopeDefaults(&event)
	event.LastSynced = s.now()

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.Upsert(tx, &event)
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "cache fetched event")
	}
	return &event, nil
}

// Create writes an optimistic row under a temporary ID and queues the
// create atomically.
func (s *Service) Create(ctx context.Context, input CreateInput) (string, error) {
	if err := s.validate.Struct(input); err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "validate event input")
	}
	if input.EndsAt != nil && input.EndsAt.Before(input.StartsAt) {
		return "", errors.New(errors.CodeValidation, "event ends before it starts")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "encode event input")
	}

	id := repo.NewLocalID()
	event := models.Event{
		ID:          id,
		TenantID:    s.scope.TenantID,
		ChurchID:    s.scope.ChurchID,
		Title:       input.Title,
		Description: input.Description,
		Location:    input.Location,
		StartsAt:    input.StartsAt,
		Capacity:    input.Capacity,
		LastSynced:  s.now(),
	}
	if input.EndsAt != nil {
		event.EndsAt = *input.EndsAt
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Insert(tx, &event); err != nil {
			return errors.Wrap(errors.CodeStorage, err, "insert optimistic event")
		}
		_, err := s.outbox.Enqueue(ctx, tx, enums.EntityEvents, enums.OperationCreate, &id, payload)
		return err
	})
	if err != nil {
		return "", err
	}
	s.outbox.Kick()
	return id, nil
}

// Update applies the partial change locally and queues the delta.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) error {
	if err := s.validate.Struct(input); err != nil {
		return errors.Wrap(errors.CodeValidation, err, "validate event update")
	}
	changes := input.changes()
	if len(changes) == 0 {
		return errors.New(errors.CodeValidation, "no fields to update")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return errors.Wrap(errors.CodeValidation, err, "encode event update")
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		affected, err := s.repo.ApplyPartial(tx, id, changes)
		if err != nil {
			return errors.Wrap(errors.CodeStorage, err, "apply event update")
		}
		if affected == 0 {
			return errors.New(errors.CodeNotFound, fmt.Sprintf("event %s not cached", id))
		}
		_, err = s.outbox.Enqueue(ctx, tx, enums.EntityEvents, enums.OperationUpdate, &id, payload)
		return err
	})
	if err != nil {
		return err
	}
	s.outbox.Kick()
	return nil
}

// Delete queues the delete intent and removes the cached row together.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.outbox.Enqueue(ctx, tx, enums.EntityEvents, enums.OperationDelete, &id, nil); err != nil {
			return err
		}
		if err := s.repo.Delete(tx, id); err != nil {
			return errors.Wrap(errors.CodeStorage, err, "remove cached event")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.outbox.Kick()
	return nil
}

// SyncStatus reports where the event's latest queued mutation stands.
func (s *Service) SyncStatus(ctx context.Context, id string) (outbox.EntityStatus, error) {
	return s.outbox.EntitySyncStatus(ctx, enums.EntityEvents, id)
}

// ApplyServerRecord reconciles a delivered create or update with the
// server's authoritative record.
func (s *Service) ApplyServerRecord(ctx context.Context, tx *gorm.DB, localID string, body json.RawMessage) error {
	var event models.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode server event record: %w", err)
	}
	if event.ID == "" {
		return fmt.Errorf("server event record missing id")
	}
	s.applyScopeDefaults(&event)
	event.LastSynced = s.now()

	if localID != "" && localID != event.ID {
		if err := s.repo.Delete(tx, localID); err != nil {
			return err
		}
	}
	return s.repo.Upsert(tx, &event)
}

func (s *Service) applyScopeDefaults(event *models.Event) {
	if event.TenantID == "" {
		event.TenantID = s.scope.TenantID
	}
	if event.ChurchID == "" {
		event.ChurchID = s.scope.ChurchID
	}
}

func (s *Service) query(filter ListFilter) url.Values {
	query := url.Values{}
	if filter.From != nil {
		query.Set("from", filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		query.Set("to", filter.To.UTC().Format(time.RFC3339))
	}
	return query
}
