package models

import "time"

// CacheEntry is the durable mirror of one session cache entry. Meta and
// History hold JSON.
type CacheEntry struct {
	Namespace string    `gorm:"primaryKey"`
	Key       string    `gorm:"column:entry_key;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	Meta      string
	History   string
}

// TableName specifies the table name for CacheEntry Model
func (CacheEntry) TableName() string {
	return "cache_entries"
}
