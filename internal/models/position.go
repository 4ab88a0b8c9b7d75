package models

import (
	"time"
)

type Position struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement:false"`
	Investor       string `gorm:"size:42;not null;index"`
	Referrer       string `gorm:"size:42;not null;index"`
	BeneficiaryTag string `gorm:"size:42;not null"`
	Amount         string `gorm:"type:numeric(78,0);not null"`
	CreatedAt      time.Time
}

// InvestedEvent is the append-only audit trail of committed investments.
type InvestedEvent struct {
	ID             uint   `gorm:"primaryKey"`
	PositionID     uint64 `gorm:"uniqueIndex;not null"`
	BeneficiaryTag string `gorm:"size:42;not null"`
	Referrer       string `gorm:"size:42;not null"`
	Investor       string `gorm:"size:42;not null"`
	Amount         string `gorm:"type:numeric(78,0);not null"`
	CreatedAt      time.Time
}
