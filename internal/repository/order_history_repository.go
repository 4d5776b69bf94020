package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderHistoryRepository stores the completed-order projection fed by
// booking events.
type GormOrderHistoryRepository struct {
	db *gorm.DB
}

// NewGormOrderHistoryRepository creates a new GormOrderHistoryRepository.
func NewGormOrderHistoryRepository(db *gorm.DB) *GormOrderHistoryRepository {
	return &GormOrderHistoryRepository{db: db}
}

// RecordCompletedOrder stores a completed order; replays are ignored.
func (r *GormOrderHistoryRepository) RecordCompletedOrder(ctx context.Context, userID uuid.UUID, orderRef string, completedAt time.Time) error {
	model := CompletedOrderModel{OrderRef: orderRef, UserID: userID, CompletedAt: completedAt}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// HasCompletedOrder reports whether the user has any completed order.
func (r *GormOrderHistoryRepository) HasCompletedOrder(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CompletedOrderModel{}).
		Where("user_id = ?", userID).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}
