package announcements

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pastor-macsagun/drouple-sync/internal/repo"
	"github.com/pastor-macsagun/drouple-sync/pkg/db/models"
)

// Repository is the cache access layer for announcements.
type Repository struct {
	repo.Base
	scope repo.Scope
}

func NewRepository(db *gorm.DB, scope repo.Scope) *Repository {
	return &Repository{Base: repo.NewBase(db), scope: scope}
}

func (r *Repository) List(ctx context.Context, filter ListFilter, now time.Time) ([]models.Announcement, error) {
	q := r.scope.Apply(r.DB(ctx))
	if filter.ActiveOnly {
		q = q.Where("published_at <= ?", now.UTC()).
			Where("expires_at IS NULL OR expires_at > ?", now.UTC())
	}
	var out []models.Announcement
	err := q.Order("published_at DESC").Find(&out).Error
	return out, err
}

func (r *Repository) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	var announcement models.Announcement
	err := r.scope.Apply(r.DB(ctx)).Where("id = ?", id).First(&announcement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &announcement, nil
}

func (r *Repository) Insert(tx *gorm.DB, announcement *models.Announcement) error {
	return tx.Create(announcement).Error
}

func (r *Repository) Upsert(tx *gorm.DB, announcement *models.Announcement) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(announcement).Error
}

func (r *Repository) UpsertBatch(tx *gorm.DB, rows []models.Announcement) error {
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
	result := r.scope.Apply(tx.Model(&models.Announcement{})).Where("id = ?", id).Updates(changes)
	return result.RowsAffected, result.Error
}

func (r *Repository) Delete(tx *gorm.DB, id string) error {
	return r.scope.Apply(tx).Where("id = ?", id).Delete(&models.Announcement{}).Error
}
