package credentials

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
)

// Repository persists sealed provider credentials.
type Repository interface {
	Upsert(ctx context.Context, cred *models.OAuthCredential) error
	Find(ctx context.Context, userID uuid.UUID, provider enums.CredentialProvider) (*models.OAuthCredential, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.OAuthCredential, error)
	Delete(ctx context.Context, userID uuid.UUID, provider enums.CredentialProvider) (bool, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Upsert(ctx context.Context, cred *models.OAuthCredential) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expires_at", "updated_at"}),
	}).Create(cred).Error
}

func (r *repositoryImpl) Find(ctx context.Context, userID uuid.UUID, provider enums.CredentialProvider) (*models.OAuthCredential, error) {
	var cred models.OAuthCredential
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Take(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

func (r *repositoryImpl) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.OAuthCredential, error) {
	var creds []models.OAuthCredential
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("provider ASC").Find(&creds).Error
	return creds, err
}

func (r *repositoryImpl) Delete(ctx context.Context, userID uuid.UUID, provider enums.CredentialProvider) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&models.OAuthCredential{})
	return res.RowsAffected > 0, res.Error
}
