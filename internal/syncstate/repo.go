package syncstate

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pastor-macsagun/drouple-sync/internal/repo"
	"github.com/pastor-macsagun/drouple-sync/pkg/db/models"
)

// Repository manages the per-resource sync metadata rows: last-seen
// ETag, pagination cursor, and fetch timestamps.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Get returns the state row for the resource, or nil when the resource
// has never been fetched.
func (r *Repository) Get(ctx context.Context, resourceKey string) (*models.SyncState, error) {
	var state models.SyncState
	err := r.DB(ctx).Where("resource_key = ?", resourceKey).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ETag returns the stored ETag for the resource, or "" when none.
func (r *Repository) ETag(ctx context.Context, resourceKey string) (string, error) {
	state, err := r.Get(ctx, resourceKey)
	if err != nil || state == nil || state.ETag == nil {
		return "", err
	}
	return *state.ETag, nil
}

// RecordFetch upserts the resource's ETag, cursor, and fetch timestamp
// after a successful 200 response. Runs inside the caller's transaction
// so it commits atomically with the cache refresh.
func (r *Repository) RecordFetch(tx *gorm.DB, resourceKey, etag string, cursor *string, at time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	state := models.SyncState{
		ResourceKey: resourceKey,
		NextCursor:  cursor,
		LastFetch:   &at,
	}
	if etag != "" {
		state.ETag = &etag
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"etag", "next_cursor", "last_fetch", "updated_at"}),
	}).Create(&state).Error
}

// RecordFullSync upserts the completion timestamp of a full sync pass.
func (r *Repository) RecordFullSync(ctx context.Context, resourceKey string, at time.Time) error {
	state := models.SyncState{
		ResourceKey:  resourceKey,
		LastFullSync: &at,
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_full_sync", "updated_at"}),
	}).Create(&state).Error
}

// Clear drops the resource's state row, forcing the next read to do an
// unconditional full refresh.
func (r *Repository) Clear(ctx context.Context, resourceKey string) error {
	return r.DB(ctx).Where("resource_key = ?", resourceKey).Delete(&models.SyncState{}).Error
}
