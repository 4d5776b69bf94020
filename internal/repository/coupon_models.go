package repository

import (
	"time"

	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// CouponModel is the GORM model for the coupons table.
type CouponModel struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Code              string         `gorm:"type:varchar(50);uniqueIndex:idx_coupons_code;not null"`
	Name              string         `gorm:"type:varchar(255);not null"`
	Description       string         `gorm:"type:text"`
	DiscountType      string         `gorm:"type:varchar(20);not null"`
	Value             int64          `gorm:"not null"`
	MaxDiscountCents  *int64         `gorm:""`
	MinOrderCents     int64          `gorm:"not null;default:0"`
	ApplicableFor     pq.StringArray `gorm:"type:text[];not null"`
	Scope             string         `gorm:"type:varchar(20);not null;default:'global'"`
	OwnerVendorID     *uuid.UUID     `gorm:"type:uuid"`
	StartDate         time.Time      `gorm:"type:timestamptz;not null"`
	EndDate           time.Time      `gorm:"type:timestamptz;not null"`
	UsageLimit        *int           `gorm:""`
	UsageCount        int            `gorm:"not null;default:0"`
	UserUsageLimit    int            `gorm:"not null;default:1"`
	SpecificUsers     pq.StringArray `gorm:"type:text[];not null"`
	ExcludeUsers      pq.StringArray `gorm:"type:text[];not null"`
	FirstTimeUserOnly bool           `gorm:"not null;default:false"`
	IsReferralCoupon  bool           `gorm:"not null;default:false"`
	ReferralType      string         `gorm:"type:varchar(30)"`
	GeneratedByUserID *uuid.UUID     `gorm:"type:uuid;index"`
	IsActive          bool           `gorm:"not null;default:true"`
	CreatedBy         uuid.UUID      `gorm:"type:uuid;not null"`
	UpdatedBy         uuid.UUID      `gorm:"type:uuid;not null"`
	Version           int64          `gorm:"not null;default:1"`
	CreatedAt         time.Time      `gorm:"type:timestamptz;not null"`
	UpdatedAt         time.Time      `gorm:"type:timestamptz;not null"`

	Usages []CouponUsageModel `gorm:"foreignKey:CouponID"`
}

// TableName sets the table name.
func (CouponModel) TableName() string { return "coupons" }

// CouponUsageModel is one row of the per-user usage ledger.
type CouponUsageModel struct {
	CouponID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UsageCount int       `gorm:"not null"`
	UsedAt     time.Time `gorm:"type:timestamptz;not null"`
	OrderRef   string    `gorm:"type:varchar(100);not null"`
}

// TableName sets the table name.
func (CouponUsageModel) TableName() string { return "coupon_usages" }

// RedemptionModel records one committed redemption keyed by order reference.
type RedemptionModel struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CouponID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_redemptions_coupon_order"`
	Code             string     `gorm:"type:varchar(50);not null"`
	UserID           uuid.UUID  `gorm:"type:uuid;not null;index"`
	OrderRef         string     `gorm:"type:varchar(100);not null;uniqueIndex:idx_redemptions_coupon_order;index"`
	OrderAmountCents int64      `gorm:"not null"`
	DiscountCents    int64      `gorm:"not null"`
	FinalAmountCents int64      `gorm:"not null"`
	RedeemedAt       time.Time  `gorm:"type:timestamptz;not null"`
	ReleasedAt       *time.Time `gorm:"type:timestamptz"`
}

// TableName sets the table name.
func (RedemptionModel) TableName() string { return "coupon_redemptions" }

// CompletedOrderModel is the local projection of completed bookings used to
// answer first-time-user checks.
type CompletedOrderModel struct {
	OrderRef    string    `gorm:"type:varchar(100);primaryKey"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index"`
	CompletedAt time.Time `gorm:"type:timestamptz;not null"`
}

// TableName sets the table name.
func (CompletedOrderModel) TableName() string { return "completed_orders" }

func toCouponModel(c *couponDomain.Coupon) CouponModel {
	s := c.Snapshot()
	return CouponModel{
		ID:                s.ID,
		Code:              s.Code,
		Name:              s.Name,
		Description:       s.Description,
		DiscountType:      string(s.DiscountType),
		Value:             s.Value,
		MaxDiscountCents:  s.MaxDiscountCents,
		MinOrderCents:     s.MinOrderCents,
		ApplicableFor:     pq.StringArray(s.ApplicableFor),
		Scope:             string(s.Scope),
		OwnerVendorID:     s.OwnerVendorID,
		StartDate:         s.StartDate,
		EndDate:           s.EndDate,
		UsageLimit:        s.UsageLimit,
		UsageCount:        s.UsageCount,
		UserUsageLimit:    s.UserUsageLimit,
		SpecificUsers:     uuidsToStrings(s.SpecificUsers),
		ExcludeUsers:      uuidsToStrings(s.ExcludeUsers),
		FirstTimeUserOnly: s.FirstTimeUserOnly,
		IsReferralCoupon:  s.IsReferralCoupon,
		ReferralType:      s.ReferralType,
		GeneratedByUserID: s.GeneratedByUserID,
		IsActive:          s.IsActive,
		CreatedBy:         s.CreatedBy,
		UpdatedBy:         s.UpdatedBy,
		Version:           s.Version,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func toCouponDomain(m *CouponModel) *couponDomain.Coupon {
	usedBy := make([]couponDomain.UsageEntry, len(m.Usages))
	for i, u := range m.Usages {
		usedBy[i] = couponDomain.UsageEntry{
			UserID:     u.UserID,
			UsageCount: u.UsageCount,
			UsedAt:     u.UsedAt,
			OrderRef:   u.OrderRef,
		}
	}
	return couponDomain.Reconstruct(couponDomain.Snapshot{
		ID:                m.ID,
		Code:              m.Code,
		Name:              m.Name,
		Description:       m.Description,
		DiscountType:      couponDomain.DiscountType(m.DiscountType),
		Value:             m.Value,
		MaxDiscountCents:  m.MaxDiscountCents,
		MinOrderCents:     m.MinOrderCents,
		ApplicableFor:     []string(m.ApplicableFor),
		Scope:             couponDomain.Scope(m.Scope),
		OwnerVendorID:     m.OwnerVendorID,
		StartDate:         m.StartDate,
		EndDate:           m.EndDate,
		UsageLimit:        m.UsageLimit,
		UsageCount:        m.UsageCount,
		UserUsageLimit:    m.UserUsageLimit,
		UsedBy:            usedBy,
		SpecificUsers:     stringsToUUIDs(m.SpecificUsers),
		ExcludeUsers:      stringsToUUIDs(m.ExcludeUsers),
		FirstTimeUserOnly: m.FirstTimeUserOnly,
		IsReferralCoupon:  m.IsReferralCoupon,
		ReferralType:      m.ReferralType,
		GeneratedByUserID: m.GeneratedByUserID,
		IsActive:          m.IsActive,
		CreatedBy:         m.CreatedBy,
		UpdatedBy:         m.UpdatedBy,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	})
}

func toRedemptionDomain(m *RedemptionModel) *couponDomain.Redemption {
	return &couponDomain.Redemption{
		ID:               m.ID,
		CouponID:         m.CouponID,
		Code:             m.Code,
		UserID:           m.UserID,
		OrderRef:         m.OrderRef,
		OrderAmountCents: m.OrderAmountCents,
		DiscountCents:    m.DiscountCents,
		FinalAmountCents: m.FinalAmountCents,
		RedeemedAt:       m.RedeemedAt,
		ReleasedAt:       m.ReleasedAt,
	}
}

func uuidsToStrings(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func stringsToUUIDs(values []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		if id, err := uuid.Parse(v); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// AutoMigrate creates the schema from the models for development and tests.
// The partial referral index is not expressible in struct tags.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&CouponModel{}, &CouponUsageModel{}, &RedemptionModel{}, &CompletedOrderModel{}); err != nil {
		return err
	}
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ` + constraintActiveReferral + `
		ON coupons (generated_by_user_id)
		WHERE is_referral_coupon AND is_active`).Error
}
