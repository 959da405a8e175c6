package repository

import (
	"time"

	devicedomain "mailsync-backend/internal/devices/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceTokenRepository defines the interface for device token operations.
// TokensByUser and RemoveToken double as the delivery sink's token store.
type DeviceTokenRepository interface {
	SaveToken(userID, token, deviceInfo string) error
	TokensByUser(userID string) ([]string, error)
	RemoveToken(token string) error
	RemoveTokensByUser(userID string) error
}

// deviceTokenRepository implements DeviceTokenRepository interface
type deviceTokenRepository struct {
	db *gorm.DB
}

// NewDeviceTokenRepository creates a new instance of deviceTokenRepository
func NewDeviceTokenRepository(db *gorm.DB) DeviceTokenRepository {
	return &deviceTokenRepository{
		db: db,
	}
}

// SaveToken saves or updates a device token for a user (atomic upsert)
func (r *deviceTokenRepository) SaveToken(userID, token, deviceInfo string) error {
	deviceToken := &devicedomain.DeviceToken{
		ID:         uuid.New().String(),
		UserID:     userID,
		Token:      token,
		DeviceInfo: deviceInfo,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	// Atomic upsert: INSERT ... ON CONFLICT (token) DO UPDATE
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "device_info", "updated_at"}),
	}).Create(deviceToken).Error
}

// TokensByUser returns the raw token strings registered for a user
func (r *deviceTokenRepository) TokensByUser(userID string) ([]string, error) {
	var rows []devicedomain.DeviceToken
	if err := r.db.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}

	tokens := make([]string, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, row.Token)
	}
	return tokens, nil
}

// RemoveToken removes a specific device token
func (r *deviceTokenRepository) RemoveToken(token string) error {
	return r.db.Where("token = ?", token).Delete(&devicedomain.DeviceToken{}).Error
}

// RemoveTokensByUser removes all device tokens for a user
func (r *deviceTokenRepository) RemoveTokensByUser(userID string) error {
	return r.db.Where("user_id = ?", userID).Delete(&devicedomain.DeviceToken{}).Error
}
