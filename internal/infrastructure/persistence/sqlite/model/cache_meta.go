package model

import "time"

// CacheMeta records facts about the cache database itself, such as the
// envelope schema version it was initialized with.
type CacheMeta struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Key       string    `gorm:"column:key;type:text;uniqueIndex;not null"`
	Value     string    `gorm:"column:value;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (CacheMeta) TableName() string {
	return "cache_meta"
}
