package members

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pastor-macsagun/drouple-sync/internal/repo"
	"github.com/pastor-macsagun/drouple-sync/pkg/db/models"
)

// Repository is the cache access layer for members. All reads are
// scoped to the device's tenant and church.
type Repository struct {
	repo.Base
	scope repo.Scope
}

func NewRepository(db *gorm.DB, scope repo.Scope) *Repository {
	return &Repository{Base: repo.NewBase(db), scope: scope}
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.Member, error) {
	q := r.scope.Apply(r.DB(ctx))
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.Where("name LIKE ? OR email LIKE ?", pattern, pattern)
	}
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	var out []models.Member
	err := q.Order("name ASC").Find(&out).Error
	return out, err
}

func (r *Repository) GetByID(ctx context.Context, id string) (*models.Member, error) {
	var member models.Member
	err := r.scope.Apply(r.DB(ctx)).Where("id = ?", id).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *Repository) Insert(tx *gorm.DB, member *models.Member) error {
	return tx.Create(member).Error
}

// Upsert overwrites the cached snapshot wholesale by primary key.
func (r *Repository) Upsert(tx *gorm.DB, member *models.Member) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(member).Error
}

func (r *Repository) UpsertBatch(tx *gorm.DB, rows []models.Member) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rows).Error
}

// ApplyPartial updates only the supplied columns on the cached row.
func (r *Repository) ApplyPartial(tx *gorm.DB, id string, changes map[string]any) (int64, error) {
	if len(changes) == 0 {
		return 0, nil
	}
	result := r.scope.Apply(tx.Model(&models.Member{})).Where("id = ?", id).Updates(changes)
	return result.RowsAffected, result.Error
}

func (r *Repository) Delete(tx *gorm.DB, id string) error {
	return r.scope.Apply(tx).Where("id = ?", id).Delete(&models.Member{}).Error
}
