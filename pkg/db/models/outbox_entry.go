package models

import (
	"encoding/json"
	"time"

	"github.com/pastor-macsagun/drouple-sync/pkg/enums"
)

// OutboxEntry is one durably recorded pending mutation. Entries are
// created by repository writes and removed only by retention cleanup
// after reaching the synced status.
type OutboxEntry struct {
	ID             int64                 `gorm:"column:id;primaryKey;autoIncrement"`
	IdempotencyKey string                `gorm:"column:idempotency_key;uniqueIndex;not null"`
	EntityType     enums.EntityType      `gorm:"column:entity_type;not null"`
	EntityID       *string               `gorm:"column:entity_id"`
	Operation      enums.OutboxOperation `gorm:"column:operation;not null"`
	Payload        json.RawMessage       `gorm:"column:payload;type:text;not null"`
	Status         enums.OutboxStatus    `gorm:"column:status;not null;default:pending"`
	RetryCount     int                   `gorm:"column:retry_count;not null;default:0"`
	NextRetryAt    *time.Time            `gorm:"column:next_retry_at"`
	ErrorMessage   *string               `gorm:"column:error_message"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (OutboxEntry) TableName() string { return "outbox_entries" }
