package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-store/internal/domain"
)

// GetMeta returns the metadata value for key, or ErrNotFound.
func GetMeta(ctx context.Context, db *gorm.DB, key string) (string, error) {
	var row domain.Metadata
	if err := db.WithContext(ctx).Where("key = ?", key).First(&row).Error; err != nil {
		return "", err
	}
	return row.Value, nil
}

// SetMeta upserts a metadata value.
func SetMeta(ctx context.Context, db *gorm.DB, key, value string) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&domain.Metadata{Key: key, Value: value}).Error
}
