package coupon

import (
	"fmt"
	"strings"
	"time"

	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/domain"
	"github.com/google/uuid"
)

// DiscountType represents the shape of the discount.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Scope restricts who may apply a coupon.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeVendor   Scope = "vendor"
	ScopeReferral Scope = "referral"
)

// CategoryAll matches every order category.
const CategoryAll = "all"

// UsageEntry is one user's line in the usage ledger.
type UsageEntry struct {
	UserID     uuid.UUID `json:"user_id"`
	UsageCount int       `json:"usage_count"`
	UsedAt     time.Time `json:"used_at"`
	OrderRef   string    `json:"order_ref"`
}

// Params is the administrator-editable configuration of a coupon.
type Params struct {
	Code              string
	Name              string
	Description       string
	DiscountType      DiscountType
	Value             int64
	MaxDiscountCents  *int64
	MinOrderCents     int64
	ApplicableFor     []string
	Scope             Scope
	OwnerVendorID     *uuid.UUID
	StartDate         time.Time
	EndDate           time.Time
	UsageLimit        *int
	UserUsageLimit    int
	SpecificUsers     []uuid.UUID
	ExcludeUsers      []uuid.UUID
	FirstTimeUserOnly bool
	IsActive          bool
}

// Snapshot is the flat, persistence-friendly form of a Coupon.
type Snapshot struct {
	ID                uuid.UUID    `json:"id"`
	Code              string       `json:"code"`
	Name              string       `json:"name"`
	Description       string       `json:"description"`
	DiscountType      DiscountType `json:"discount_type"`
	Value             int64        `json:"value"`
	MaxDiscountCents  *int64       `json:"max_discount_cents,omitempty"`
	MinOrderCents     int64        `json:"min_order_cents"`
	ApplicableFor     []string     `json:"applicable_for"`
	Scope             Scope        `json:"scope"`
	OwnerVendorID     *uuid.UUID   `json:"owner_vendor_id,omitempty"`
	StartDate         time.Time    `json:"start_date"`
	EndDate           time.Time    `json:"end_date"`
	UsageLimit        *int         `json:"usage_limit,omitempty"`
	UsageCount        int          `json:"usage_count"`
	UserUsageLimit    int          `json:"user_usage_limit"`
	UsedBy            []UsageEntry `json:"used_by"`
	SpecificUsers     []uuid.UUID  `json:"specific_users"`
	ExcludeUsers      []uuid.UUID  `json:"exclude_users"`
	FirstTimeUserOnly bool         `json:"first_time_user_only"`
	IsReferralCoupon  bool         `json:"is_referral_coupon"`
	ReferralType      string       `json:"referral_type,omitempty"`
	GeneratedByUserID *uuid.UUID   `json:"generated_by_user_id,omitempty"`
	IsActive          bool         `json:"is_active"`
	CreatedBy         uuid.UUID    `json:"created_by"`
	UpdatedBy         uuid.UUID    `json:"updated_by"`
	Version           int64        `json:"version"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Coupon is the aggregate root for discount codes.
type Coupon struct {
	id                uuid.UUID
	code              string
	name              string
	description       string
	discountType      DiscountType
	value             int64
	maxDiscountCents  *int64
	minOrderCents     int64
	applicableFor     map[string]struct{}
	scope             Scope
	ownerVendorID     *uuid.UUID
	startDate         time.Time
	endDate           time.Time
	usageLimit        *int
	usageCount        int
	userUsageLimit    int
	usedBy            []UsageEntry
	specificUsers     map[uuid.UUID]struct{}
	excludeUsers      map[uuid.UUID]struct{}
	firstTimeUserOnly bool
	isReferralCoupon  bool
	referralType      string
	generatedByUserID *uuid.UUID
	isActive          bool
	createdBy         uuid.UUID
	updatedBy         uuid.UUID
	version           int64
	createdAt         time.Time
	updatedAt         time.Time
}

// NormalizeCode returns the stored form of a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeCategory returns the stored form of a category tag.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// NewCoupon creates a new coupon from administrator input.
func NewCoupon(p Params, createdBy uuid.UUID) (*Coupon, error) {
	if err := validateParams(&p); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &Coupon{
		id:        uuid.New(),
		createdBy: createdBy,
		updatedBy: createdBy,
		version:   1,
		createdAt: now,
		updatedAt: now,
	}
	c.apply(p)
	return c, nil
}

// Reconfigure applies an administrative edit. Usage counters are never touched
// here; lowering usageLimit below the current usageCount is rejected.
func (c *Coupon) Reconfigure(p Params, updatedBy uuid.UUID) error {
	if err := validateParams(&p); err != nil {
		return err
	}
	if p.UsageLimit != nil && *p.UsageLimit < c.usageCount {
		return domain.NewValidationError(fmt.Sprintf("usage_limit cannot be lower than current usage count %d", c.usageCount))
	}
	if c.isReferralCoupon && p.Scope != ScopeReferral {
		return domain.NewInvalidStateError(string(ScopeReferral), string(p.Scope))
	}
	for _, e := range c.usedBy {
		if e.UsageCount > p.UserUsageLimit {
			return domain.NewValidationError(fmt.Sprintf("user_usage_limit cannot be lower than an existing per-user count %d", e.UsageCount))
		}
	}

	c.apply(p)
	c.updatedBy = updatedBy
	c.IncrementVersion()
	return nil
}

// Disable flips the kill-switch off. It reports false when the coupon was
// already inactive.
func (c *Coupon) Disable(updatedBy uuid.UUID) bool {
	if !c.isActive {
		return false
	}
	c.isActive = false
	c.updatedBy = updatedBy
	c.IncrementVersion()
	return true
}

// IncrementVersion bumps the configuration version for optimistic locking.
func (c *Coupon) IncrementVersion() {
	c.version++
	c.updatedAt = time.Now().UTC()
}

func (c *Coupon) apply(p Params) {
	c.code = p.Code
	c.name = p.Name
	c.description = p.Description
	c.discountType = p.DiscountType
	c.value = p.Value
	c.maxDiscountCents = p.MaxDiscountCents
	c.minOrderCents = p.MinOrderCents
	c.applicableFor = toStringSet(p.ApplicableFor)
	c.scope = p.Scope
	c.ownerVendorID = p.OwnerVendorID
	c.startDate = p.StartDate
	c.endDate = p.EndDate
	c.usageLimit = p.UsageLimit
	c.userUsageLimit = p.UserUsageLimit
	c.specificUsers = toUUIDSet(p.SpecificUsers)
	c.excludeUsers = toUUIDSet(p.ExcludeUsers)
	c.firstTimeUserOnly = p.FirstTimeUserOnly
	c.isActive = p.IsActive
}

func validateParams(p *Params) error {
	p.Code = NormalizeCode(p.Code)
	p.Name = strings.TrimSpace(p.Name)
	if p.Code == "" {
		return domain.NewValidationError("coupon code is required")
	}
	if len(p.Code) > 50 {
		return domain.NewValidationError("coupon code must be at most 50 characters")
	}
	if p.Name == "" {
		p.Name = p.Code
	}
	if p.DiscountType != DiscountTypePercentage && p.DiscountType != DiscountTypeFixed {
		return domain.NewValidationError(fmt.Sprintf("invalid discount type: %s", p.DiscountType))
	}
	if p.Value < 0 {
		return domain.NewValidationError("discount value must not be negative")
	}
	if p.DiscountType == DiscountTypePercentage && p.Value > 100 {
		return domain.NewValidationError("percentage discount cannot exceed 100")
	}
	if p.MaxDiscountCents != nil && *p.MaxDiscountCents < 0 {
		return domain.NewValidationError("max_discount_cents must not be negative")
	}
	if p.MinOrderCents < 0 {
		return domain.NewValidationError("min_order_cents must not be negative")
	}
	if !p.StartDate.Before(p.EndDate) {
		return domain.NewValidationError("start_date must be before end_date")
	}
	if p.UsageLimit != nil && *p.UsageLimit < 0 {
		return domain.NewValidationError("usage_limit must not be negative")
	}
	if p.UserUsageLimit == 0 {
		p.UserUsageLimit = 1
	}
	if p.UserUsageLimit < 0 {
		return domain.NewValidationError("user_usage_limit must be positive")
	}
	if p.Scope == "" {
		p.Scope = ScopeGlobal
	}
	switch p.Scope {
	case ScopeGlobal, ScopeReferral:
		p.OwnerVendorID = nil
	case ScopeVendor:
		if p.OwnerVendorID == nil || *p.OwnerVendorID == uuid.Nil {
			return domain.NewValidationError("owner_vendor_id is required for vendor scoped coupons")
		}
	default:
		return domain.NewValidationError(fmt.Sprintf("invalid scope: %s", p.Scope))
	}

	categories := make([]string, 0, len(p.ApplicableFor))
	for _, cat := range p.ApplicableFor {
		if cat = NormalizeCategory(cat); cat != "" {
			categories = append(categories, cat)
		}
	}
	if len(categories) == 0 {
		categories = []string{CategoryAll}
	}
	p.ApplicableFor = categories
	return nil
}

// Reconstruct rebuilds a Coupon from persistence.
func Reconstruct(s Snapshot) *Coupon {
	usedBy := make([]UsageEntry, len(s.UsedBy))
	copy(usedBy, s.UsedBy)
	return &Coupon{
		id:                s.ID,
		code:              s.Code,
		name:              s.Name,
		description:       s.Description,
		discountType:      s.DiscountType,
		value:             s.Value,
		maxDiscountCents:  s.MaxDiscountCents,
		minOrderCents:     s.MinOrderCents,
		applicableFor:     toStringSet(s.ApplicableFor),
		scope:             s.Scope,
		ownerVendorID:     s.OwnerVendorID,
		startDate:         s.StartDate,
		endDate:           s.EndDate,
		usageLimit:        s.UsageLimit,
		usageCount:        s.UsageCount,
		userUsageLimit:    s.UserUsageLimit,
		usedBy:            usedBy,
		specificUsers:     toUUIDSet(s.SpecificUsers),
		excludeUsers:      toUUIDSet(s.ExcludeUsers),
		firstTimeUserOnly: s.FirstTimeUserOnly,
		isReferralCoupon:  s.IsReferralCoupon,
		referralType:      s.ReferralType,
		generatedByUserID: s.GeneratedByUserID,
		isActive:          s.IsActive,
		createdBy:         s.CreatedBy,
		updatedBy:         s.UpdatedBy,
		version:           s.Version,
		createdAt:         s.CreatedAt,
		updatedAt:         s.UpdatedAt,
	}
}

// Snapshot flattens the aggregate for persistence and caching.
func (c *Coupon) Snapshot() Snapshot {
	usedBy := make([]UsageEntry, len(c.usedBy))
	copy(usedBy, c.usedBy)
	return Snapshot{
		ID:                c.id,
		Code:              c.code,
		Name:              c.name,
		Description:       c.description,
		DiscountType:      c.discountType,
		Value:             c.value,
		MaxDiscountCents:  c.maxDiscountCents,
		MinOrderCents:     c.minOrderCents,
		ApplicableFor:     c.ApplicableFor(),
		Scope:             c.scope,
		OwnerVendorID:     c.ownerVendorID,
		StartDate:         c.startDate,
		EndDate:           c.endDate,
		UsageLimit:        c.usageLimit,
		UsageCount:        c.usageCount,
		UserUsageLimit:    c.userUsageLimit,
		UsedBy:            usedBy,
		SpecificUsers:     c.SpecificUsers(),
		ExcludeUsers:      c.ExcludeUsers(),
		FirstTimeUserOnly: c.firstTimeUserOnly,
		IsReferralCoupon:  c.isReferralCoupon,
		ReferralType:      c.referralType,
		GeneratedByUserID: c.generatedByUserID,
		IsActive:          c.isActive,
		CreatedBy:         c.createdBy,
		UpdatedBy:         c.updatedBy,
		Version:           c.version,
		CreatedAt:         c.createdAt,
		UpdatedAt:         c.updatedAt,
	}
}

// UsageFor returns the ledger entry of userID, if any.
func (c *Coupon) UsageFor(userID uuid.UUID) (UsageEntry, bool) {
	for _, e := range c.usedBy {
		if e.UserID == userID {
			return e, true
		}
	}
	return UsageEntry{}, false
}

// IsExhausted reports whether the total usage cap has been reached.
func (c *Coupon) IsExhausted() bool {
	return c.usageLimit != nil && c.usageCount >= *c.usageLimit
}

// LedgerTotal sums every per-user count in the ledger.
func (c *Coupon) LedgerTotal() int {
	total := 0
	for _, e := range c.usedBy {
		total += e.UsageCount
	}
	return total
}

// IsReconciled reports whether the ledger agrees with the authoritative total.
func (c *Coupon) IsReconciled() bool {
	return c.LedgerTotal() == c.usageCount
}

// Getters.
func (c *Coupon) ID() uuid.UUID                 { return c.id }
func (c *Coupon) Code() string                  { return c.code }
func (c *Coupon) Name() string                  { return c.name }
func (c *Coupon) Description() string           { return c.description }
func (c *Coupon) DiscountType() DiscountType    { return c.discountType }
func (c *Coupon) Value() int64                  { return c.value }
func (c *Coupon) MaxDiscountCents() *int64      { return c.maxDiscountCents }
func (c *Coupon) MinOrderCents() int64          { return c.minOrderCents }
func (c *Coupon) Scope() Scope                  { return c.scope }
func (c *Coupon) OwnerVendorID() *uuid.UUID     { return c.ownerVendorID }
func (c *Coupon) StartDate() time.Time          { return c.startDate }
func (c *Coupon) EndDate() time.Time            { return c.endDate }
func (c *Coupon) UsageLimit() *int              { return c.usageLimit }
func (c *Coupon) UsageCount() int               { return c.usageCount }
func (c *Coupon) UserUsageLimit() int           { return c.userUsageLimit }
func (c *Coupon) FirstTimeUserOnly() bool       { return c.firstTimeUserOnly }
func (c *Coupon) IsReferralCoupon() bool        { return c.isReferralCoupon }
func (c *Coupon) ReferralType() string          { return c.referralType }
func (c *Coupon) GeneratedByUserID() *uuid.UUID { return c.generatedByUserID }
func (c *Coupon) IsActive() bool                { return c.isActive }
func (c *Coupon) CreatedBy() uuid.UUID          { return c.createdBy }
func (c *Coupon) UpdatedBy() uuid.UUID          { return c.updatedBy }
func (c *Coupon) Version() int64                { return c.version }
func (c *Coupon) CreatedAt() time.Time          { return c.createdAt }
func (c *Coupon) UpdatedAt() time.Time          { return c.updatedAt }

// UsedBy returns a copy of the usage ledger.
func (c *Coupon) UsedBy() []UsageEntry {
	out := make([]UsageEntry, len(c.usedBy))
	copy(out, c.usedBy)
	return out
}

// ApplicableFor returns the category tags in sorted order.
func (c *Coupon) ApplicableFor() []string {
	return sortedStrings(c.applicableFor)
}

// SpecificUsers returns the allow-list in sorted order.
func (c *Coupon) SpecificUsers() []uuid.UUID { return sortedUUIDs(c.specificUsers) }

// ExcludeUsers returns the deny-list in sorted order.
func (c *Coupon) ExcludeUsers() []uuid.UUID { return sortedUUIDs(c.excludeUsers) }
