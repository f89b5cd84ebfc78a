package ratelimit

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Counter is the persisted window of one rate limit key.
type Counter struct {
	Key     string    `gorm:"column:counter_key;primaryKey;size:191"`
	Hits    int       `gorm:"not null;default:0"`
	ResetAt time.Time `gorm:"not null;index"`
}

func (Counter) TableName() string {
	return "rate_limit_counters"
}

// DatabaseStore keeps counters in a relational table. Each increment runs in
// one transaction whose UPDATE statements hold the row lock, so concurrent
// callers on the same key are serialised by the database.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDatabaseStore(db *gorm.DB, opts ...Option) *DatabaseStore {
	o := buildOptions(opts)
	return &DatabaseStore{
		db:  db,
		now: o.now,
	}
}

func (s *DatabaseStore) Increment(ctx context.Context, key string, period time.Duration) (int, time.Time, error) {
	now := s.now().UTC()
	var row Counter

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := Counter{Key: key, Hits: 0, ResetAt: now.Add(period)}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		if err := tx.Model(&Counter{}).
			Where("counter_key = ? AND reset_at <= ?", key, now).
			Updates(map[string]any{"hits": 0, "reset_at": now.Add(period)}).Error; err != nil {
			return err
		}

		if err := tx.Model(&Counter{}).
			Where("counter_key = ?", key).
			Update("hits", gorm.Expr("hits + ?", 1)).Error; err != nil {
			return err
		}

		return tx.Where("counter_key = ?", key).First(&row).Error
	})
	if err != nil {
		return 0, time.Time{}, err
	}

	return row.Hits, row.ResetAt, nil
}

func (s *DatabaseStore) Reset(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("counter_key = ?", key).Delete(&Counter{}).Error
}

// DeleteExpired drops every counter whose window has closed.
func (s *DatabaseStore) DeleteExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("reset_at <= ?", s.now().UTC()).Delete(&Counter{})
	return result.RowsAffected, result.Error
}
