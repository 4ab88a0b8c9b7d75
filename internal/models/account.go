package models

import (
	"time"
)

// Account rows are inserted in registration order, so ordering by ID
// always lists a referrer before the accounts it referred.
type Account struct {
	ID           uint    `gorm:"primaryKey"`
	Address      string  `gorm:"size:42;uniqueIndex;not null"`
	Referrer     *string `gorm:"size:42;index"` // nil for the root
	RegisteredAt time.Time
}
