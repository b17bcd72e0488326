package nonce

import (
	"context"
	"errors"
	"time"

	"relay-core/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore 基于 gorm 的实现; CAS 通过带旧值条件的 UPDATE 完成
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, key string) (uint64, bool, error) {
	var rec model.NonceRecord
	err := s.db.WithContext(ctx).Where("nonce_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rec.Next, true, nil
}

func (s *SQLStore) Put(ctx context.Context, key string, value uint64) error {
	rec := model.NonceRecord{Key: key, Next: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "nonce_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"next_nonce", "updated_at"}),
	}).Create(&rec).Error
}

func (s *SQLStore) CompareAndSwap(ctx context.Context, key string, old, new uint64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.NonceRecord{}).
		Where("nonce_key = ? AND next_nonce = ?", key, old).
		Updates(map[string]interface{}{"next_nonce": new, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
