package attendance

import "time"

// CheckInInput records one member check-in. CheckedInAt defaults to
// the current device time when absent.
type CheckInInput struct {
	MemberID    string     `json:"memberId" validate:"required"`
	EventID     string     `json:"eventId,omitempty"`
	ServiceName string     `json:"serviceName,omitempty" validate:"omitempty,max=120"`
	CheckedInAt *time.Time `json:"checkedInAt,omitempty"`
	IsNewComer  bool       `json:"isNewComer,omitempty"`
}

// UpdateInput corrects a recorded check-in.
type UpdateInput struct {
	ServiceName *string `json:"serviceName,omitempty" validate:"omitempty,max=120"`
	EventID     *string `json:"eventId,omitempty"`
	IsNewComer  *bool   `json:"isNewComer,omitempty"`
}

func (u UpdateInput) changes() map[string]any {
	out := make(map[string]any)
	if u.ServiceName != nil {
		out["service_name"] = *u.ServiceName
	}
	if u.EventID != nil {
		out["event_id"] = *u.EventID
	}
	if u.IsNewComer != nil {
		out["is_new_comer"] = *u.IsNewComer
	}
	return out
}

// ListFilter narrows cached attendance reads.
type ListFilter struct {
	MemberID string
	EventID  string
	From     *time.Time
	To       *time.Time
}

// Stats aggregates one calendar day of check-ins.
type Stats struct {
	Total     int64 `json:"total"`
	NewComers int64 `json:"newComers"`
}

// ExportRow is an attendance record joined with its member's details
// for report exports.
type ExportRow struct {
	RecordID    string    `json:"recordId" gorm:"column:record_id"`
	MemberID    string    `json:"memberId" gorm:"column:member_id"`
	MemberName  string    `json:"memberName" gorm:"column:member_name"`
	MemberEmail string    `json:"memberEmail,omitempty" gorm:"column:member_email"`
	ServiceName string    `json:"serviceName,omitempty" gorm:"column:service_name"`
	EventID     string    `json:"eventId,omitempty" gorm:"column:event_id"`
	CheckedInAt time.Time `json:"checkedInAt" gorm:"column:checked_in_at"`
	IsNewComer  bool      `json:"isNewComer" gorm:"column:is_new_comer"`
}
