package models

import "time"

// SyncState holds per-resource fetch metadata: the last seen ETag, an
// optional pagination cursor, and fetch timestamps. One row per logical
// resource key ("members", "events", ...); cleared to force a full
// refresh.
type SyncState struct {
	ResourceKey  string     `gorm:"column:resource_key;primaryKey"`
	ETag         *string    `gorm:"column:etag"`
	NextCursor   *string    `gorm:"column:next_cursor"`
	LastFetch    *time.Time `gorm:"column:last_fetch"`
	LastFullSync *time.Time `gorm:"column:last_full_sync"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (SyncState) TableName() string { return "sync_states" }
