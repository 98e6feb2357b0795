package announcements

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

// Service is the announcement read/write API over the cache, outbox,
// and remote client.
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
		return nil, fmt.Errorf("announcements service: missing dependency")
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

// List serves announcements from the cache after attempting a
// conditional remote refresh.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.Announcement, error) {
	if err := s.Refresh(ctx, filter); err != nil {
		s.logg.Warn(s.logg.WithEntityType(ctx, string(enums.EntityAnnouncements)), "announcement refresh failed, serving cache")
	}
	rows, err := s.repo.List(ctx, filter, s.now())
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "list cached announcements")
	}
	return rows, nil
}

// Active is a cache-only read of currently visible announcements.
func (s *Service) Active(ctx context.Context) ([]models.Announcement, error) {
	rows, err := s.repo.List(ctx, ListFilter{ActiveOnly: true}, s.now())
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "list active announcements")
	}
	return rows, nil
}

// Refresh performs one conditional fetch against the announcements
// resource.
func (s *Service) Refresh(ctx context.Context, filter ListFilter) error {
	etag, err := s.syncState.ETag(ctx, string(enums.EntityAnnouncements))
	if err != nil {
		return errors.Wrap(errors.CodeStorage, err, "read announcements etag")
	}

	result, err := s.remote.List(ctx, enums.EntityAnnouncements, s.query(filter), etag)
	if err != nil {
		return err
	}
	if result.NotModified {
		return nil
	}

	fetchedAt := s.now()
	rows := make([]models.Announcement, 0, len(result.Items))
	for _, item := range result.Items {
		var announcement models.Announcement
		if err := json.Unmarshal(item, &announcement); err != nil {
			return errors.Wrap(errors.CodeRemote, err, "decode announcement record")
		}
		if announcement.ID == "" {
			continue
		}
		s.applyScopeDefaults(&announcement)
		announcement.LastSynced = fetchedAt
		rows = append(rows, announcement)
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.UpsertBatch(tx, rows); err != nil {
			return err
		}
		return s.syncState.RecordFetch(tx, string(enums.EntityAnnouncements), result.ETag, nil, fetchedAt)
	})
	if err != nil {
		return errors.Wrap(errors.CodeStorage, err, "store fetched announcements")
	}
	return nil
}

// GetByID is cache-first with a single remote lookup fallback.
func (s *Service) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	cached, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "read cached announcement")
	}
	if cached != nil {
		return cached, nil
	}
	if repo.IsLocalID(id) {
		return nil, nil
	}

	body, err := s.remote.Get(ctx, enums.EntityAnnouncements, id)
	if err != nil {
		if !errors.IsCode(err, errors.CodeNotFound) {
			s.logg.Warn(s.logg.WithEntityID(ctx, id), "announcement lookup failed")
		}
		return nil, nil
	}

	var announcement models.Announcement
	if err := json.Unmarshal(body, &announcement); err != nil || announcement.ID == "" {
		s.logg.Warn(s.logg.WithEntityID(ctx, id), "announcement record undecodable")
		return nil, nil
	}
	s.applyScopeDefaults(&announcement)
	announcement.LastSynced = s.now()

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.Upsert(tx, &announcement)
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "cache fetched announcement")
	}
	return &announcement, nil
}

// Create writes an optimistic row under a temporary ID and queues the
// create atomically. An absent PublishedAt defaults to now.
func (s *Service) Create(ctx context.Context, input CreateInput) (string, error) {
	if err := s.validate.Struct(input); err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "validate announcement input")
	}
	publishedAt := s.now()
	if input.PublishedAt != nil {
		publishedAt = *input.PublishedAt
	}
	normalized := input
	normalized.PublishedAt = &publishedAt
	payload, err := json.Marshal(normalized)
	if err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "encode announcement input")
	}

	id := repo.NewLocalID()
	announcement := models.Announcement{
		ID:          id,
		TenantID:    s.scope.TenantID,
		ChurchID:    s.scope.ChurchID,
		Title:       input.Title,
		Body:        input.Body,
		PublishedAt: publishedAt.UTC(),
		ExpiresAt:   input.ExpiresAt,
		LastSynced:  s.now(),
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Insert(tx, &announcement); err != nil {
			return errors.Wrap(errors.CodeStorage, err, "insert optimistic announcement")
		}
		_, err := s.outbox.Enqueue(ctx, tx, enums.EntityAnnouncements, enums.OperationCreate, &id, payload)
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
		return errors.Wrap(errors.CodeValidation, err, "validate announcement update")
	}
	changes := input.changes()
	if len(changes) == 0 {
		return errors.New(errors.CodeValidation, "no fields to update")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return errors.Wrap(errors.CodeValidation, err, "encode announcement update")
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		affected, err := s.repo.ApplyPartial(tx, id, changes)
		if err != nil {
			return errors.Wrap(errors.CodeStorage, err, "apply announcement update")
		}
		if affected == 0 {
			return errors.New(errors.CodeNotFound, fmt.Sprintf("announcement %s not cached", id))
		}
		_, err = s.outbox.Enqueue(ctx, tx, enums.EntityAnnouncements, enums.OperationUpdate, &id, payload)
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
		if _, err := s.outbox.Enqueue(ctx, tx, enums.EntityAnnouncements, enums.OperationDelete, &id, nil); err != nil {
			return err
		}
		if err := s.repo.Delete(tx, id); err != nil {
			return errors.Wrap(errors.CodeStorage, err, "remove cached announcement")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.outbox.Kick()
	return nil
}

// SyncStatus reports where the announcement's latest queued mutation
// stands.
func (s *Service) SyncStatus(ctx context.Context, id string) (outbox.EntityStatus, error) {
	return s.outbox.EntitySyncStatus(ctx, enums.EntityAnnouncements, id)
}

// ApplyServerRecord reconciles a delivered create or update with the
// server's authoritative record.
func (s *Service) ApplyServerRecord(ctx context.Context, tx *gorm.DB, localID string, body json.RawMessage) error {
	var announcement models.Announcement
	if err := json.Unmarshal(body, &announcement); err != nil {
		return fmt.Errorf("decode server announcement record: %w", err)
	}
	if announcement.ID == "" {
		return fmt.Errorf("server announcement record missing id")
	}
	s.applyScopeDefaults(&announcement)
	announcement.LastSynced = s.now()

	if localID != "" && localID != announcement.ID {
		if err := s.repo.Delete(tx, localID); err != nil {
			return err
		}
	}
	return s.repo.Upsert(tx, &announcement)
}

func (s *Service) applyScopeDefaults(announcement *models.Announcement) {
	if announcement.TenantID == "" {
		announcement.TenantID = s.scope.TenantID
	}
	if announcement.ChurchID == "" {
		announcement.ChurchID = s.scope.ChurchID
	}
}

func (s *Service) query(filter ListFilter) url.Values {
	query := url.Values{}
	if filter.ActiveOnly {
		query.Set("active", "true")
	}
	return query
}
