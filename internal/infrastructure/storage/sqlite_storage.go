package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crmdash/internal/errs"
	"crmdash/internal/infrastructure/persistence/sqlite/model"
	"crmdash/internal/ports"
)

// SQLiteStorage persists cache documents in the cache_kv table and emulates a
// browser storage quota when quotaBytes is positive.
type SQLiteStorage struct {
	db         *gorm.DB
	quotaBytes int64
}

var _ ports.Storage = (*SQLiteStorage)(nil)

func NewSQLiteStorage(db *gorm.DB, quotaBytes int64) *SQLiteStorage {
	return &SQLiteStorage{db: db, quotaBytes: quotaBytes}
}

func (s *SQLiteStorage) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return s.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) (string, bool, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return "", false, err
	}

	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return "", false, errors.New("key is required")
	}

	var row model.CacheKV
	if err := db.Where("key = ?", trimmedKey).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, errs.Wrap(err, "query storage by key")
	}

	return row.Value, true, nil
}

func (s *SQLiteStorage) Set(ctx context.Context, key string, value string) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}

	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return errors.New("key is required")
	}

	if s.quotaBytes > 0 {
		others, err := s.sizeExcluding(db, trimmedKey)
		if err != nil {
			return err
		}
		if others+entryBytes(trimmedKey, value) > s.quotaBytes {
			return errs.Wrapf(ports.ErrQuotaExceeded, "set %q", trimmedKey)
		}
	}

	row := model.CacheKV{
		Key:       trimmedKey,
		Value:     value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert storage key")
	}

	return nil
}

func (s *SQLiteStorage) Remove(ctx context.Context, key string) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}

	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return errors.New("key is required")
	}

	if err := db.Where("key = ?", trimmedKey).Delete(&model.CacheKV{}).Error; err != nil {
		return errs.Wrap(err, "delete storage key")
	}
	return nil
}

func (s *SQLiteStorage) SizeEstimate(ctx context.Context) (int64, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}
	return s.sizeExcluding(db, "")
}

func (s *SQLiteStorage) sizeExcluding(db *gorm.DB, excludedKey string) (int64, error) {
	var rows []model.CacheKV
	query := db.Model(&model.CacheKV{}).Select("key", "value")
	if excludedKey != "" {
		query = query.Where("key <> ?", excludedKey)
	}
	if err := query.Find(&rows).Error; err != nil {
		return 0, errs.Wrap(err, "scan storage size")
	}

	var total int64
	for _, row := range rows {
		total += entryBytes(row.Key, row.Value)
	}
	return total, nil
}
