package models

import "time"

// AttendanceRecord is a cached check-in. CheckedInAt is stored in UTC;
// "today" queries convert device-local day bounds to UTC before
// comparing.
type AttendanceRecord struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID    string    `gorm:"column:tenant_id;not null" json:"tenantId"`
	ChurchID    string    `gorm:"column:church_id;not null" json:"churchId"`
	MemberID    string    `gorm:"column:member_id;not null" json:"memberId"`
	EventID     string    `gorm:"column:event_id" json:"eventId,omitempty"`
	ServiceName string    `gorm:"column:service_name" json:"serviceName,omitempty"`
	CheckedInAt time.Time `gorm:"column:checked_in_at;not null" json:"checkedInAt"`
	IsNewComer  bool      `gorm:"column:is_new_comer" json:"isNewComer,omitempty"`
	LastSynced  time.Time `gorm:"column:last_synced" json:"-"`
}

func (AttendanceRecord) TableName() string { return "attendance_records" }
