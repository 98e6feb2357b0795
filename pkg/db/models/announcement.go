package models

import "time"

// Announcement is a cached snapshot of a published announcement.
type Announcement struct {
	ID          string     `gorm:"column:id;primaryKey" json:"id"`
	TenantID    string     `gorm:"column:tenant_id;not null" json:"tenantId"`
	ChurchID    string     `gorm:"column:church_id;not null" json:"churchId"`
	Title       string     `gorm:"column:title;not null" json:"title"`
	Body        string     `gorm:"column:body" json:"body,omitempty"`
	PublishedAt time.Time  `gorm:"column:published_at;not null" json:"publishedAt"`
	ExpiresAt   *time.Time `gorm:"column:expires_at" json:"expiresAt,omitempty"`
	LastSynced  time.Time  `gorm:"column:last_synced" json:"-"`
}

func (Announcement) TableName() string { return "announcements" }
