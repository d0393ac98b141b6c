package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/pkg/enums"
)

// OAuthCredential stores sealed provider tokens for one user.
type OAuthCredential struct {
	ID           uuid.UUID                `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID                `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_oauth_credentials_user_provider" json:"user_id"`
	Provider     enums.CredentialProvider `gorm:"column:provider;type:text;not null;uniqueIndex:ux_oauth_credentials_user_provider" json:"provider"`
	AccessToken  string                   `gorm:"column:access_token;type:text;not null" json:"-"`
	RefreshToken *string                  `gorm:"column:refresh_token;type:text" json:"-"`
	ExpiresAt    *time.Time               `gorm:"column:expires_at" json:"expires_at,omitempty"`
	CreatedAt    time.Time                `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time                `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName pins the table name.
func (OAuthCredential) TableName() string {
	return "oauth_credentials"
}

// BeforeCreate assigns an id when the caller did not.
func (c *OAuthCredential) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
