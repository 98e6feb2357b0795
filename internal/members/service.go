package members

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

// Service is the member read/write API. Reads are cache-backed with a
// conditional remote refresh; writes land locally first and queue a
// mutation for background delivery.
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
		return nil, fmt.Errorf("members service: missing dependency")
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

// List serves members from the cache after attempting a conditional
// remote refresh. Remote failures are logged and swallowed; the cache
// is the fallback.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.Member, error) {
	if err := s.Refresh(ctx, filter); err != nil {
		s.logg.Warn(s.logg.WithEntityType(ctx, string(enums.EntityMembers)), "member refresh failed, serving cache")
	}
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "list cached members")
	}
	return rows, nil
}

// Refresh performs one conditional fetch. On 304 the cache and stored
// ETag stay untouched; on 200 the returned rows are upserted and the
// new ETag recorded in the same transaction.
func (s *Service) Refresh(ctx context.Context, filter ListFilter) error {
	etag, err := s.syncState.ETag(ctx, string(enums.EntityMembers))
	if err != nil {
		return errors.Wrap(errors.CodeStorage, err, "read members etag")
	}

	result, err := s.remote.List(ctx, enums.EntityMembers, s.query(filter), etag)
	if err != nil {
		return err
	}
	if result.NotModified {
		return nil
	}

	fetchedAt := s.now()
	rows := make([]models.Member, 0, len(result.Items))
	for _, item := range result.Items {
		var member models.Member
		if err := json.Unmarshal(item, &member); err != nil {
			return errors.Wrap(errors.CodeRemote, err, "decode member record")
		}
		if member.ID == "" {
			continue
		}
		s.applyScopeDefaults(&member)
		member.LastSynced = fetchedAt
		rows = append(rows, member)
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.UpsertBatch(tx, rows); err != nil {
			return err
		}
		return s.syncState.RecordFetch(tx, string(enums.EntityMembers), result.ETag, nil, fetchedAt)
	})
	if err != nil {
		return errors.Wrap(errors.CodeStorage, err, "store fetched members")
	}
	return nil
}

// GetByID is cache-first: a cached row short-circuits; otherwise one
// remote lookup populates the cache. Returns nil when neither side has
// the member.
func (s *Service) GetByID(ctx context.Context, id string) (*models.Member, error) {
	cached, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "read cached member")
	}
	if cached != nil {
		return cached, nil
	}
	if repo.IsLocalID(id) {
		return nil, nil
	}

	body, err := s.remote.Get(ctx, enums.EntityMembers, id)
	if err != nil {
		if !errors.IsCode(err, errors.CodeNotFound) {
			s.logg.Warn(s.logg.WithEntityID(ctx, id), "member lookup failed")
		}
		return nil, nil
	}

	var member models.Member
	if err := json.Unmarshal(body, &member); err != nil || member.ID == "" {
		s.logg.Warn(s.logg.WithEntityID(ctx, id), "member record undecodable")
		return nil, nil
	}
	s.applyScopeDefaults(&member)
	member.LastSynced = s.now()

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.Upsert(tx, &member)
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, err, "cache fetched member")
	}
	return &member, nil
}

// Create writes an optimistic row under a temporary ID and queues the
// create in the same transaction. Returns the temporary ID; the server
// record replaces it once the mutation is delivered.
func (s *Service) Create(ctx context.Context, input CreateInput) (string, error) {
	if err := s.validate.Struct(input); err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "validate member input")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return "", errors.Wrap(errors.CodeValidation, err, "encode member input")
	}

	id := repo.NewLocalID()
	member := models.Member{
		ID:         id,
		TenantID:   s.scope.TenantID,
		ChurchID:   s.scope.ChurchID,
		Name:       input.Name,
		Email:      input.Email,
		Phone:      input.Phone,
		Role:       input.Role,
		JoinedAt:   input.JoinedAt,
		LastSynced: s.now(),
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Insert(tx, &member); err != nil {
			return errors.Wrap(errors.CodeStorage, err, "insert optimistic member")
		}
		_, err := s.outbox.Enqueue(ctx, tx, enums.EntityMembers, enums.OperationCreate, &id, payload)
		return err
	})
	if err != nil {
		return "", err
	}
	s.outbox.Kick()
	return id, nil
}

// Update applies the partial change to the cache immediately and queues
// an update carrying only the changed fields.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) error {
	if err := s.validate.Struct(input); err != nil {
		return errors.Wrap(errors.CodeValidation, err, "validate member update")
	}
	changes := input.changes()
	if len(changes) == 0 {
		return errors.New(errors.CodeValidation, "no fields to update")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return errors.Wrap(errors.CodeValidation, err, "encode member update")
	}

	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		affected, err := s.repo.ApplyPartial(tx, id, changes)
		if err != nil {
			return errors.Wrap(errors.CodeStorage, err, "apply member update")
		}
		if affected == 0 {
			return errors.New(errors.CodeNotFound, fmt.Sprintf("member %s not cached", id))
		}
		_, err = s.outbox.Enqueue(ctx, tx, enums.EntityMembers, enums.OperationUpdate, &id, payload)
		return err
	})
	if err != nil {
		return err
	}
	s.outbox.Kick()
	return nil
}

// Delete queues the delete before removing the cached row; both commit
// atomically so the intent to delete is never lost.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.outbox.Enqueue(ctx, tx, enums.EntityMembers, enums.OperationDelete, &id, nil); err != nil {
			return err
		}
		if err := s.repo.Delete(tx, id); err != nil {
			return errors.Wrap(errors.CodeStorage, err, "remove cached member")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.outbox.Kick()
	return nil
}

// SyncStatus reports where the member's latest queued mutation stands.
func (s *Service) SyncStatus(ctx context.Context, id string) (outbox.EntityStatus, error) {
	return s.outbox.EntitySyncStatus(ctx, enums.EntityMembers, id)
}

// ApplyServerRecord reconciles a delivered create or update: the
// server's authoritative record replaces the optimistic row, dropping
// the temporary-ID row when the server issued a different ID.
func (s *Service) ApplyServerRecord(ctx context.Context, tx *gorm.DB, localID string, body json.RawMessage) error {
	var member models.Member
	if err := json.Unmarshal(body, &member); err != nil {
		return fmt.Errorf("decode server member record: %w", err)
	}
	if member.ID == "" {
		return fmt.Errorf("server member record missing id")
	}
	s.applyScopeDefaults(&member)
	member.LastSynced = s.now()

	if localID != "" && localID != member.ID {
		if err := s.repo.Delete(tx, localID); err != nil {
			return err
		}
	}
	return s.repo.Upsert(tx, &member)
}

func (s *Service) applyScopeDefaults(member *models.Member) {
	if member.TenantID == "" {
		member.TenantID = s.scope.TenantID
	}
	if member.ChurchID == "" {
		member.ChurchID = s.scope.ChurchID
	}
}

func (s *Service) query(filter ListFilter) url.Values {
	query := url.Values{}
	if filter.Search != "" {
		query.Set("search", filter.Search)
	}
	if filter.Role != "" {
		query.Set("role", filter.Role)
	}
	return query
}
