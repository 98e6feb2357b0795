package models

import "time"

// Event is a cached snapshot of a scheduled church event.
type Event struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID    string    `gorm:"column:tenant_id;not null" json:"tenantId"`
	ChurchID    string    `gorm:"column:church_id;not null" json:"churchId"`
	Title       string    `gorm:"column:title;not null" json:"title"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	Location    string    `gorm:"column:location" json:"location,omitempty"`
	StartsAt    time.Time `gorm:"column:starts_at;not null" json:"startsAt"`
	EndsAt      time.Time `gorm:"column:ends_at" json:"endsAt"`
	Capacity    int       `gorm:"column:capacity" json:"capacity,omitempty"`
	LastSynced  time.Time `gorm:"column:last_synced" json:"-"`
}

func (Event) TableName() string { return "events" }
