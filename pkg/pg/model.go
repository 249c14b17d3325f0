package pg

import (
	"time"
)

// Timestamps is embedded by entities that track row creation and updates.
type Timestamps struct {
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
