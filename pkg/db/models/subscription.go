package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/pkg/enums"
)

// Subscription is the canonical record of one recurring service a user pays for.
type Subscription struct {
	ID            uuid.UUID                `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	ServiceName   string                   `gorm:"column:service_name;type:text;not null" json:"service_name"`
	Tier          *string                  `gorm:"column:tier;type:text" json:"tier,omitempty"`
	Amount        decimal.Decimal          `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Currency      enums.Currency           `gorm:"column:currency;type:text;not null;default:'USD'" json:"currency"`
	BillingCycle  enums.BillingCycle       `gorm:"column:billing_cycle;type:text;not null;default:'monthly'" json:"billing_cycle"`
	NextRenewal   *time.Time               `gorm:"column:next_renewal" json:"next_renewal,omitempty"`
	PaymentMethod *string                  `gorm:"column:payment_method;type:text" json:"payment_method,omitempty"`
	Source        enums.SubscriptionSource `gorm:"column:source;type:text;not null" json:"source"`
	Status        enums.SubscriptionStatus `gorm:"column:status;type:text;not null;default:'ACTIVE'" json:"status"`
	ExternalID    *string                  `gorm:"column:external_id;type:text" json:"external_id,omitempty"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time                `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns an id when the caller did not.
func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
