package events

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pastor-macsagun/drouple-sync/internal/repo"
	"github.com/pastor-macsagun/drouple-sync/pkg/db/models"
)

// Repository is the cache access layer for events.
type Repository struct {
	repo.Base
	scope repo.Scope
}

func NewRepository(db *gorm.DB, scope repo.Scope) *Repository {
	return &Repository{Base: repo.NewBase(db), scope: scope}
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.Event, error) {
	q := r.scope.Apply(r.DB(ctx))
	if filter.From != nil {
		q = q.Where("starts_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("starts_at < ?", filter.To.UTC())
	}
	var out []models.Event
	err := q.Order("starts_at ASC").Find(&out).Error
	return out, err
}

// Upcoming returns cached events that have not started yet.
func (r *Repository) Upcoming(ctx context.Context, now time.Time, limit int) ([]models.Event, error) {
	q := r.scope.Apply(r.DB(ctx)).Where("starts_at >= ?", now.UTC()).Order("starts_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Event
	err := q.Find(&out).Error
	return out, err
}

func (r *Repository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := r.scope.Apply(r.DB(ctx)).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *Repository) Insert(tx *gorm.DB, event *models.Event) error {
	return tx.Create(event).Error
}

func (r *Repository) Upsert(tx *gorm.DB, event *models.Event) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(event).Error
}

func (r *Repository) UpsertBatch(tx *gorm.DB, rows []models.Event) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rows).Error
}

func (r *Repository) ApplyPartial(tx *gorm.DB, id string, changes map[string]any) (int64, error) {
	if len(changes) == 0 {
		return 0, nil
	}
	result := r.scope.Apply(tx.Model(&models.Event{})).Where("id = ?", id).Updates(changes)
	return result.RowsAffected, result.Error
}

func (r *Repository) Delete(tx *gorm.DB, id string) error {
	return r.scope.Apply(tx).Where("id = ?", id).Delete(&models.Event{}).Error
}
