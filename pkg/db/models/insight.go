package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/pkg/enums"
)

// Insight is an immutable advisory message produced for a user.
type Insight struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	SubscriptionID *uuid.UUID        `gorm:"column:subscription_id;type:uuid;index" json:"subscription_id,omitempty"`
	Type           enums.InsightType `gorm:"column:type;type:text;not null" json:"type"`
	Message        string            `gorm:"column:message;type:text;not null" json:"message"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// BeforeCreate assigns an id when the caller did not.
func (i *Insight) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
