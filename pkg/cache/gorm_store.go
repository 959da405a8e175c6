package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is the tier-two row. Shared by every service instance through
// Postgres; expired rows are filtered on read and swept by PurgeExpired.
type Entry struct {
	Key       string    `gorm:"primaryKey;size:512"`
	Value     []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	UpdatedAt time.Time
}

func (Entry) TableName() string {
	return "cache_entries"
}

// gormStore implements Store on Postgres via gorm.
type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var entry Entry
	err := s.db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, time.Now()).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get: %v", ErrTierUnavailable, err)
	}
	return entry.Value, nil
}

func (s *gormStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := Entry{
		Key:       key,
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
		UpdatedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("%w: set: %v", ErrTierUnavailable, err)
	}
	return nil
}

func (s *gormStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrTierUnavailable, err)
	}
	return nil
}

func (s *gormStore) DeletePrefix(ctx context.Context, prefix string) error {
	// '_' and '%' are LIKE wildcards and legal in keys (page_1), so the
	// prefix must be escaped before the scan.
	pattern := escapeLike(prefix) + "%"
	err := s.db.WithContext(ctx).
		Where(`key LIKE ? ESCAPE '\'`, pattern).
		Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("%w: delete prefix: %v", ErrTierUnavailable, err)
	}
	return nil
}

func (s *gormStore) PurgeExpired(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("%w: purge: %v", ErrTierUnavailable, err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
