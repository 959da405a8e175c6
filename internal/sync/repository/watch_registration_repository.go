package repository

import (
	"errors"
	"time"

	syncdomain "mailsync-backend/internal/sync/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// watchRegistrationRepository implements WatchRegistrationRepository interface
type watchRegistrationRepository struct {
	db *gorm.DB
}

// NewWatchRegistrationRepository creates a new instance of watchRegistrationRepository
func NewWatchRegistrationRepository(db *gorm.DB) WatchRegistrationRepository {
	return &watchRegistrationRepository{
		db: db,
	}
}

func (r *watchRegistrationRepository) Upsert(reg *syncdomain.WatchRegistration) error {
	now := time.Now()
	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now

	// One registration per user; a fresh start supersedes any prior watch.
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", reg.UserID).Delete(&syncdomain.WatchRegistration{}).Error; err != nil {
			return err
		}
		return tx.Create(reg).Error
	})
}

func (r *watchRegistrationRepository) FindByUserID(userID string) (*syncdomain.WatchRegistration, error) {
	var reg syncdomain.WatchRegistration
	err := r.db.Where("user_id = ?", userID).First(&reg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

func (r *watchRegistrationRepository) FindByEmail(email string) (*syncdomain.WatchRegistration, error) {
	var reg syncdomain.WatchRegistration
	err := r.db.Where("email_address = ?", email).First(&reg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

func (r *watchRegistrationRepository) FindExpiring(before time.Time) ([]syncdomain.WatchRegistration, error) {
	var regs []syncdomain.WatchRegistration
	if err := r.db.Where("expires_at < ?", before).Find(&regs).Error; err != nil {
		return nil, err
	}
	return regs, nil
}

func (r *watchRegistrationRepository) FindAll() ([]syncdomain.WatchRegistration, error) {
	var regs []syncdomain.WatchRegistration
	if err := r.db.Find(&regs).Error; err != nil {
		return nil, err
	}
	return regs, nil
}

// UpdateMarkerIfGreater advances the marker with a conditional update so
// concurrent or out-of-order deliveries can never move it backwards.
func (r *watchRegistrationRepository) UpdateMarkerIfGreater(userID string, historyID uint64) (bool, error) {
	result := r.db.Model(&syncdomain.WatchRegistration{}).
		Where("user_id = ? AND history_id < ?", userID, historyID).
		Updates(map[string]interface{}{
			"history_id": historyID,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *watchRegistrationRepository) UpdateExpiry(userID string, expiresAt time.Time) error {
	return r.db.Model(&syncdomain.WatchRegistration{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"expires_at": expiresAt,
			"updated_at": time.Now(),
		}).Error
}

func (r *watchRegistrationRepository) UpdateCredentials(userID string, sealed []byte) error {
	return r.db.Model(&syncdomain.WatchRegistration{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"credentials": sealed,
			"updated_at":  time.Now(),
		}).Error
}

func (r *watchRegistrationRepository) TouchLastSync(userID string) error {
	now := time.Now()
	return r.db.Model(&syncdomain.WatchRegistration{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"last_sync_at": now,
			"updated_at":   now,
		}).Error
}

func (r *watchRegistrationRepository) Delete(userID string) error {
	return r.db.Where("user_id = ?", userID).Delete(&syncdomain.WatchRegistration{}).Error
}
