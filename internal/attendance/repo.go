package attendance

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pastor-macsagun/drouple-sync/internal/repo"
	"github.com/pastor-macsagun/drouple-sync/pkg/db/models"
)

// Repository is the cache access layer for attendance records.
// Timestamps are stored in UTC; day-based queries receive UTC bounds
// computed from the device-local calendar day.
type Repository struct {
	repo.Base
	scope repo.Scope
}

func NewRepository(db *gorm.DB, scope repo.Scope) *Repository {
	return &Repository{Base: repo.NewBase(db), scope: scope}
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.AttendanceRecord, error) {
	q := r.scope.Apply(r.DB(ctx))
	if filter.MemberID != "" {
		q = q.Where("member_id = ?", filter.MemberID)
	}
	if filter.EventID != "" {
		q = q.Where("event_id = ?", filter.EventID)
	}
	if filter.From != nil {
		q = q.Where("checked_in_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("checked_in_at < ?", filter.To.UTC())
	}
	var out []models.AttendanceRecord
	err := q.Order("checked_in_at DESC").Find(&out).Error
	return out, err
}

func (r *Repository) GetByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	var record models.AttendanceRecord
	err := r.scope.Apply(r.DB(ctx)).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ExistsForMemberBetween reports whether the member has any check-in
// inside the half-open window [from, to).
func (r *Repository) ExistsForMemberBetween(ctx context.Context, memberID string, from, to time.Time) (bool, error) {
	var count int64
	err := r.scope.Apply(r.DB(ctx).Model(&models.AttendanceRecord{})).
		Where("member_id = ?", memberID).
		Where("checked_in_at >= ? AND checked_in_at < ?", from, to).
		Count(&count).Error
	return count > 0, err
}

// StatsBetween aggregates check-ins inside the half-open window.
func (r *Repository) StatsBetween(ctx context.Context, from, to time.Time) (Stats, error) {
	var stats Stats
	base := r.scope.Apply(r.DB(ctx).Model(&models.AttendanceRecord{})).
		Where("checked_in_at >= ? AND checked_in_at < ?", from, to)
	if err := base.Count(&stats.Total).Error; err != nil {
		return Stats{}, err
	}
	err := r.scope.Apply(r.DB(ctx).Model(&models.AttendanceRecord{})).
		Where("checked_in_at >= ? AND checked_in_at < ?", from, to).
		Where("is_new_comer = ?", true).
		Count(&stats.NewComers).Error
	return stats, err
}

// ExportBetween joins attendance rows with member details for the
// window, oldest first. Records whose member is not cached still export
// with empty member columns.
func (r *Repository) ExportBetween(ctx context.Context, from, to time.Time) ([]ExportRow, error) {
	var rows []ExportRow
	q := r.DB(ctx).Table("attendance_records AS a").
		Select(`a.id AS record_id, a.member_id, m.name AS member_name,
			m.email AS member_email, a.service_name, a.event_id,
			a.checked_in_at, a.is_new_comer`).
		Joins("LEFT JOIN members m ON m.id = a.member_id").
		Where("a.checked_in_at >= ? AND a.checked_in_at < ?", from, to)
	if r.scope.TenantID != "" {
		q = q.Where("a.tenant_id = ?", r.scope.TenantID)
	}
	if r.scope.ChurchID != "" {
		q = q.Where("a.church_id = ?", r.scope.ChurchID)
	}
	err := q.Order("a.checked_in_at ASC").Scan(&rows).Error
	return rows, err
}

func (r *Repository) Insert(tx *gorm.DB, record *models.AttendanceRecord) error {
	return tx.Create(record).Error
}

func (r *Repository) Upsert(tx *gorm.DB, record *models.AttendanceRecord) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(record).Error
}

func (r *Repository) UpsertBatch(tx *gorm.DB, rows []models.AttendanceRecord) error {
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
	result := r.scope.Apply(tx.Model(&models.AttendanceRecord{})).Where("id = ?", id).Updates(changes)
	return result.RowsAffected, result.Error
}

func (r *Repository) Delete(tx *gorm.DB, id string) error {
	return r.scope.Apply(tx).Where("id = ?", id).Delete(&models.AttendanceRecord{}).Error
}
