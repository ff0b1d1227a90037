package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"knowte-api/internal/cache"
	"knowte-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore mirrors cache entries into the cache_entries table. Namespace
// keeps several caches apart in one table.
type GormStore[M any] struct {
	db        *gorm.DB
	namespace string
}

func NewGormStore[M any](db *gorm.DB, namespace string) *GormStore[M] {
	return &GormStore[M]{db: db, namespace: namespace}
}

func (s *GormStore[M]) Load(ctx context.Context, key string) (cache.Entry[M], bool, error) {
	var row models.CacheEntry
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", s.namespace, key).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cache.Entry[M]{}, false, nil
	}
	if err != nil {
		return cache.Entry[M]{}, false, err
	}

	entry := cache.Entry[M]{Key: row.Key, CreatedAt: row.CreatedAt}
	if err := json.Unmarshal([]byte(row.Meta), &entry.Meta); err != nil {
		return cache.Entry[M]{}, false, fmt.Errorf("decode meta for %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(row.History), &entry.History); err != nil {
		return cache.Entry[M]{}, false, fmt.Errorf("decode history for %q: %w", key, err)
	}
	return entry, true, nil
}

func (s *GormStore[M]) Save(ctx context.Context, entry cache.Entry[M]) error {
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	history, err := json.Marshal(entry.History)
	if err != nil {
		return err
	}
	row := models.CacheEntry{
		Namespace: s.namespace,
		Key:       entry.Key,
		CreatedAt: entry.CreatedAt,
		Meta:      string(meta),
		History:   string(history),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (s *GormStore[M]) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", s.namespace, key).
		Delete(&models.CacheEntry{}).Error
}
