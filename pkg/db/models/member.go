package models

import "time"

// Member is a cached snapshot of a church member. Rows are overwritten
// wholesale on every successful fetch or sync; there is no field-level
// merge.
type Member struct {
	ID         string     `gorm:"column:id;primaryKey" json:"id"`
	TenantID   string     `gorm:"column:tenant_id;not null" json:"tenantId"`
	ChurchID   string     `gorm:"column:church_id;not null" json:"churchId"`
	Name       string     `gorm:"column:name;not null" json:"name"`
	Email      string     `gorm:"column:email" json:"email,omitempty"`
	Phone      string     `gorm:"column:phone" json:"phone,omitempty"`
	Role       string     `gorm:"column:role" json:"role,omitempty"`
	JoinedAt   *time.Time `gorm:"column:joined_at" json:"joinedAt,omitempty"`
	LastSynced time.Time  `gorm:"column:last_synced" json:"-"`
}

func (Member) TableName() string { return "members" }
