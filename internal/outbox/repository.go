package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/pastor-macsagun/drouple-sync/pkg/db/models"
	"github.com/pastor-macsagun/drouple-sync/pkg/enums"
)

// Repository provides the persistence layer for outbox entries.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert records a new entry inside the caller's transaction so the
// optimistic cache write and the queued mutation commit atomically.
func (r *Repository) Insert(tx *gorm.DB, entry *models.OutboxEntry) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(entry).Error
}

// FetchDue selects the next processing batch: pending entries plus
// failed entries whose retry time has arrived, oldest first. Creation
// order is the delivery order.
func (r *Repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]models.OutboxEntry, error) {
	var entries []models.OutboxEntry
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.OutboxStatus{enums.OutboxPending, enums.OutboxFailed}).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// MarkSyncing flags an entry as having an in-flight remote call.
func (r *Repository) MarkSyncing(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": enums.OutboxSyncing,
		}).Error
}

// MarkSynced records a successful delivery. Runs on the supplied handle
// so it can commit atomically with the cache refresh.
func (r *Repository) MarkSynced(tx *gorm.DB, id int64) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.OutboxSynced,
			"next_retry_at": nil,
			"error_message": nil,
		}).Error
}

// MarkRetry schedules another attempt after a failed delivery.
func (r *Repository) MarkRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, message string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.OutboxFailed,
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
			"error_message": message,
		}).Error
}

// MarkDead terminates automatic processing after the retry budget is
// exhausted. Dead entries stay visible until a manual reset or
// retention cleanup after a reset-and-sync.
func (r *Repository) MarkDead(ctx context.Context, id int64, retryCount int, message string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.OutboxDead,
			"retry_count":   retryCount,
			"next_retry_at": nil,
			"error_message": message,
		}).Error
}

// CountUnsynced counts every entry that has not completed delivery.
func (r *Repository) CountUnsynced(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("status != ?", enums.OutboxSynced).
		Count(&count).Error
	return count, err
}

// LatestForEntity returns the most recent entry for the entity, or nil
// when the entity has no outbox history.
func (r *Repository) LatestForEntity(ctx context.Context, entityType enums.EntityType, entityID string) (*models.OutboxEntry, error) {
	var entry models.OutboxEntry
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC").
		Order("id DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteSyncedBefore removes synced entries older than the cutoff.
// Entries in any other status are never touched by housekeeping.
func (r *Repository) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.OutboxSynced, cutoff).
		Delete(&models.OutboxEntry{})
	return result.RowsAffected, result.Error
}

// ResetFailed moves every failed and dead entry back to pending with a
// clean retry state.
func (r *Repository) ResetFailed(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("status IN ?", []enums.OutboxStatus{enums.OutboxFailed, enums.OutboxDead}).
		Updates(map[string]any{
			"status":        enums.OutboxPending,
			"retry_count":   0,
			"next_retry_at": nil,
			"error_message": nil,
		})
	return result.RowsAffected, result.Error
}

// ResetInFlight returns entries stuck in syncing to pending. A crash
// mid-delivery leaves no way to know whether the remote call completed;
// the idempotency key makes redelivery safe.
func (r *Repository) ResetInFlight(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("status = ?", enums.OutboxSyncing).
		Updates(map[string]any{
			"status":        enums.OutboxPending,
			"next_retry_at": nil,
		})
	return result.RowsAffected, result.Error
}
