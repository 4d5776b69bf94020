package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	uniqueViolation          = "23505"
	constraintCode           = "idx_coupons_code"
	constraintActiveReferral = "idx_coupons_active_referral"
)

// GormCouponRepository implements coupon.Repository on PostgreSQL.
type GormCouponRepository struct {
	db *gorm.DB
}

// NewGormCouponRepository creates a new GormCouponRepository.
func NewGormCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

// Save persists a new coupon.
func (r *GormCouponRepository) Save(ctx context.Context, c *couponDomain.Coupon) error {
	model := toCouponModel(c)
	if err := r.db.WithContext(ctx).Omit("Usages").Create(&model).Error; err != nil {
		return translateUniqueViolation(err)
	}
	return nil
}

// Update persists configuration changes with optimistic locking. The extra
// predicates keep an edit from lowering a limit below what has already been
// consumed by concurrent redemptions.
func (r *GormCouponRepository) Update(ctx context.Context, c *couponDomain.Coupon) error {
	model := toCouponModel(c)
	previousVersion := c.Version() - 1

	q := r.db.WithContext(ctx).
		Model(&CouponModel{}).
		Where("id = ? AND version = ?", model.ID, previousVersion).
		Where("NOT EXISTS (SELECT 1 FROM coupon_usages cu WHERE cu.coupon_id = coupons.id AND cu.usage_count > ?)", model.UserUsageLimit)
	if model.UsageLimit != nil {
		q = q.Where("usage_count <= ?", *model.UsageLimit)
	}

	result := q.Select(
		"name", "description", "discount_type", "value", "max_discount_cents",
		"min_order_cents", "applicable_for", "scope", "owner_vendor_id",
		"start_date", "end_date", "usage_limit", "user_usage_limit",
		"specific_users", "exclude_users", "first_time_user_only",
		"is_active", "updated_by", "version", "updated_at",
	).Updates(&model)

	if result.Error != nil {
		return translateUniqueViolation(result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("coupon was modified by another transaction")
	}
	return nil
}

// FindByCode returns a coupon by its code string.
func (r *GormCouponRepository) FindByCode(ctx context.Context, code string) (*couponDomain.Coupon, error) {
	code = couponDomain.NormalizeCode(code)
	var model CouponModel
	if err := r.withUsages(ctx).Where("code = ?", code).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, couponDomain.NewNotFoundError(code)
		}
		return nil, err
	}
	return toCouponDomain(&model), nil
}

// FindByID returns a coupon by ID.
func (r *GormCouponRepository) FindByID(ctx context.Context, id uuid.UUID) (*couponDomain.Coupon, error) {
	var model CouponModel
	if err := r.withUsages(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, couponDomain.NewNotFoundError(id.String())
		}
		return nil, err
	}
	return toCouponDomain(&model), nil
}

// List returns a filtered page of coupons, newest first.
func (r *GormCouponRepository) List(ctx context.Context, f couponDomain.ListFilter) ([]*couponDomain.Coupon, int64, error) {
	q := r.db.WithContext(ctx).Model(&CouponModel{})
	if s := strings.TrimSpace(f.Query); s != "" {
		like := "%" + s + "%"
		q = q.Where("code ILIKE ? OR name ILIKE ?", like, like)
	}
	if f.DiscountType != "" {
		q = q.Where("discount_type = ?", string(f.DiscountType))
	}
	if f.Scope != "" {
		q = q.Where("scope = ?", string(f.Scope))
	}
	if f.Active != nil {
		q = q.Where("is_active = ?", *f.Active)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []CouponModel
	offset := (f.Page - 1) * f.Limit
	if err := q.Order("created_at DESC").Offset(offset).Limit(f.Limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	coupons := make([]*couponDomain.Coupon, len(models))
	for i := range models {
		coupons[i] = toCouponDomain(&models[i])
	}
	return coupons, total, nil
}

// FindActiveReferralsByUser returns the active referral coupons generated by userID.
func (r *GormCouponRepository) FindActiveReferralsByUser(ctx context.Context, userID uuid.UUID) ([]*couponDomain.Coupon, error) {
	var models []CouponModel
	if err := r.withUsages(ctx).
		Where("generated_by_user_id = ? AND is_referral_coupon AND is_active", userID).
		Find(&models).Error; err != nil {
		return nil, err
	}

	coupons := make([]*couponDomain.Coupon, len(models))
	for i := range models {
		coupons[i] = toCouponDomain(&models[i])
	}
	return coupons, nil
}

// Redeem performs the ledger's conditional write in one transaction:
//  1. claim (coupon_id, order_ref) in coupon_redemptions,
//  2. increment coupons.usage_count only while below usage_limit,
//  3. upsert the user's coupon_usages row only while below user_usage_limit.
//
// Row locks taken by the conditional UPDATEs serialize concurrent redemptions
// of the same coupon; a failed predicate rolls the whole transaction back.
func (r *GormCouponRepository) Redeem(ctx context.Context, cmd couponDomain.RedeemCommand) (*couponDomain.Redemption, error) {
	model := RedemptionModel{
		ID:               uuid.New(),
		CouponID:         cmd.CouponID,
		Code:             cmd.Code,
		UserID:           cmd.UserID,
		OrderRef:         cmd.OrderRef,
		OrderAmountCents: cmd.OrderAmountCents,
		DiscountCents:    cmd.DiscountCents,
		FinalAmountCents: cmd.FinalAmountCents,
		RedeemedAt:       cmd.RedeemedAt,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return couponDomain.ErrOrderRefReplayed
		}

		var limits []int
		if err := tx.Raw(`
			UPDATE coupons
			SET usage_count = usage_count + 1, updated_at = ?
			WHERE id = ? AND is_active AND (usage_limit IS NULL OR usage_count < usage_limit)
			RETURNING user_usage_limit`,
			cmd.RedeemedAt, cmd.CouponID,
		).Scan(&limits).Error; err != nil {
			return err
		}
		if len(limits) == 0 {
			return couponDomain.ErrUsageExhausted
		}

		upsert := tx.Exec(`
			INSERT INTO coupon_usages (coupon_id, user_id, usage_count, used_at, order_ref)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT (coupon_id, user_id) DO UPDATE
			SET usage_count = coupon_usages.usage_count + 1,
			    used_at = EXCLUDED.used_at,
			    order_ref = EXCLUDED.order_ref
			WHERE coupon_usages.usage_count < ?`,
			cmd.CouponID, cmd.UserID, cmd.RedeemedAt, cmd.OrderRef, limits[0],
		)
		if upsert.Error != nil {
			return upsert.Error
		}
		if upsert.RowsAffected == 0 {
			return couponDomain.ErrUserLimitReached
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toRedemptionDomain(&model), nil
}

// Release reverses one redemption: it stamps released_at (at most once),
// decrements the total and the user's ledger entry, and drops the entry when
// it reaches zero. A surviving entry takes used_at and order_ref from the
// user's latest open redemption.
func (r *GormCouponRepository) Release(ctx context.Context, couponID uuid.UUID, orderRef string, at time.Time) (*couponDomain.Redemption, error) {
	var released []RedemptionModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(`
			UPDATE coupon_redemptions
			SET released_at = ?
			WHERE coupon_id = ? AND order_ref = ? AND released_at IS NULL
			RETURNING *`,
			at, couponID, orderRef,
		).Scan(&released).Error; err != nil {
			return err
		}
		if len(released) == 0 {
			return nil
		}
		userID := released[0].UserID

		if err := tx.Exec(`
			UPDATE coupons SET usage_count = usage_count - 1, updated_at = ?
			WHERE id = ? AND usage_count > 0`,
			at, couponID,
		).Error; err != nil {
			return err
		}
		drop := tx.Exec(`
			DELETE FROM coupon_usages
			WHERE coupon_id = ? AND user_id = ? AND usage_count <= 1`,
			couponID, userID,
		)
		if drop.Error != nil {
			return drop.Error
		}
		if drop.RowsAffected > 0 {
			return nil
		}
		// point the entry back at the user's latest redemption still standing
		return tx.Exec(`
			UPDATE coupon_usages u
			SET usage_count = u.usage_count - 1,
			    used_at = latest.redeemed_at,
			    order_ref = latest.order_ref
			FROM (
				SELECT redeemed_at, order_ref FROM coupon_redemptions
				WHERE coupon_id = ? AND user_id = ? AND released_at IS NULL
				ORDER BY redeemed_at DESC
				LIMIT 1
			) latest
			WHERE u.coupon_id = ? AND u.user_id = ? AND u.usage_count > 1`,
			couponID, userID, couponID, userID,
		).Error
	})
	if err != nil {
		return nil, err
	}
	if len(released) == 0 {
		return nil, nil
	}
	return toRedemptionDomain(&released[0]), nil
}

// FindRedemption returns the redemption recorded for (couponID, orderRef).
func (r *GormCouponRepository) FindRedemption(ctx context.Context, couponID uuid.UUID, orderRef string) (*couponDomain.Redemption, error) {
	var model RedemptionModel
	if err := r.db.WithContext(ctx).
		Where("coupon_id = ? AND order_ref = ?", couponID, orderRef).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Redemption", orderRef)
		}
		return nil, err
	}
	return toRedemptionDomain(&model), nil
}

// FindOpenRedemptionsByOrderRef returns unreleased redemptions for orderRef.
func (r *GormCouponRepository) FindOpenRedemptionsByOrderRef(ctx context.Context, orderRef string) ([]*couponDomain.Redemption, error) {
	var models []RedemptionModel
	if err := r.db.WithContext(ctx).
		Where("order_ref = ? AND released_at IS NULL", orderRef).
		Order("redeemed_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toRedemptions(models), nil
}

// ListRedemptions returns every redemption of a coupon, newest first.
func (r *GormCouponRepository) ListRedemptions(ctx context.Context, couponID uuid.UUID) ([]*couponDomain.Redemption, error) {
	var models []RedemptionModel
	if err := r.db.WithContext(ctx).
		Where("coupon_id = ?", couponID).
		Order("redeemed_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toRedemptions(models), nil
}

func (r *GormCouponRepository) withUsages(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Usages", func(db *gorm.DB) *gorm.DB {
		return db.Order("used_at ASC")
	})
}

func toRedemptions(models []RedemptionModel) []*couponDomain.Redemption {
	out := make([]*couponDomain.Redemption, len(models))
	for i := range models {
		out[i] = toRedemptionDomain(&models[i])
	}
	return out
}

func translateUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintCode:
		return couponDomain.ErrDuplicateCode
	case constraintActiveReferral:
		return couponDomain.ErrAlreadyHasReferral
	default:
		return domain.NewConflictError(pgErr.Message)
	}
}
