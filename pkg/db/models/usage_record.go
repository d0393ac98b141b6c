package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/pkg/enums"
)

// UsageRecord tracks the latest engagement signals and derived score for one subscription.
type UsageRecord struct {
	ID             uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriptionID uuid.UUID                 `gorm:"column:subscription_id;type:uuid;not null;uniqueIndex" json:"subscription_id,omitempty"`
	LastEmailDate  *time.Time                `gorm:"column:last_email_date" json:"last_email_date,omitempty"`
	LastAPIUse     *time.Time                `gorm:"column:last_api_use" json:"last_api_use,omitempty"`
	LastLogin      *time.Time                `gorm:"column:last_login" json:"last_login,omitempty"`
	Score          float64                   `gorm:"column:score;not null;default:0" json:"score"`
	Classification enums.UsageClassification `gorm:"column:classification;type:text;not null;default:'UNUSED'" json:"classification"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                 `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns an id when the caller did not.
func (u *UsageRecord) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Signal returns the stored timestamp for kind.
func (u *UsageRecord) Signal(kind enums.SignalKind) *time.Time {
	switch kind {
	case enums.SignalKindEmail:
		return u.LastEmailDate
	case enums.SignalKindAPIUse:
		return u.LastAPIUse
	case enums.SignalKindLogin:
		return u.LastLogin
	}
	return nil
}

// ApplySignal raises the stored timestamp for kind to at when at is newer.
// It reports whether the record changed.
func (u *UsageRecord) ApplySignal(kind enums.SignalKind, at time.Time) bool {
	var field **time.Time
	switch kind {
	case enums.SignalKindEmail:
		field = &u.LastEmailDate
	case enums.SignalKindAPIUse:
		field = &u.LastAPIUse
	case enums.SignalKindLogin:
		field = &u.LastLogin
	default:
		return false
	}
	if *field != nil && !at.After(**field) {
		return false
	}
	ts := at.UTC()
	*field = &ts
	return true
}
