package models

import (
	"time"
)

// SettingsID is the primary key of the single settings row.
const SettingsID = 1

type Settings struct {
	ID          uint   `gorm:"primaryKey"`
	Owner       string `gorm:"size:42;not null"`
	BasePointer string `gorm:"type:text;not null;default:''"`
	Counter     uint64 `gorm:"not null;default:0"` // last issued position id
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
