package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
)

// ValidationOverride is the immutable record of one override decision. It is
// only ever inserted inside the override transaction, never updated.
type ValidationOverride struct {
	ID           int       `gorm:"primary_key" json:"id"`
	ValidationId int       `gorm:"index;not null" json:"validation_id"`
	UserId       int       `gorm:"index;not null" json:"user_id"`
	Reason       string    `gorm:"type:text;not null" json:"reason"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetValidationOverrides(ctx context.Context, validationId int) ([]ValidationOverride, error) {
	db := config.GetDB()
	var overrides []ValidationOverride
	if err := db.WithContext(ctx).
		Where("validation_id = ?", validationId).
		Order("id ASC").
		Find(&overrides).Error; err != nil {
		return nil, err
	}
	return overrides, nil
}
