package coupon

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	codeAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxPrefixLength   = 10
	defaultCodePrefix = "REF"
)

// ReferralPolicy is the fixed shape of every referral coupon.
type ReferralPolicy struct {
	DiscountPercent  int64
	MaxDiscountCents int64
	ValidDays        int
	UsageLimit       int
	SuffixLength     int
	MaxAttempts      int
	ReferralType     string
}

// DefaultReferralPolicy returns the policy used when nothing is configured.
func DefaultReferralPolicy() ReferralPolicy {
	return ReferralPolicy{
		DiscountPercent:  10,
		MaxDiscountCents: 50000,
		ValidDays:        30,
		UsageLimit:       10,
		SuffixLength:     6,
		MaxAttempts:      5,
		ReferralType:     "user",
	}
}

// ReferralPrefix derives the readable part of a referral code from a display
// name: whitespace and punctuation removed, upper-cased, truncated.
func ReferralPrefix(displayName string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(displayName) {
		if r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
		if b.Len() == maxPrefixLength {
			break
		}
	}
	if b.Len() == 0 {
		return defaultCodePrefix
	}
	return b.String()
}

// GenerateReferralCode returns prefix + random suffix drawn from src.
// Uniqueness is not guaranteed; callers retry on collision.
func GenerateReferralCode(displayName string, suffixLength int, src io.Reader) (string, error) {
	if src == nil {
		src = rand.Reader
	}
	if suffixLength <= 0 {
		suffixLength = 6
	}

	suffix := make([]byte, suffixLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range suffix {
		n, err := rand.Int(src, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate referral suffix: %w", err)
		}
		suffix[i] = codeAlphabet[n.Int64()]
	}
	return ReferralPrefix(displayName) + string(suffix), nil
}

// NewReferralCoupon builds a referral coupon owned by userID under policy.
// The generating user is excluded from redeeming their own code.
func NewReferralCoupon(userID uuid.UUID, code, displayName string, policy ReferralPolicy, now time.Time) (*Coupon, error) {
	maxDiscount := policy.MaxDiscountCents
	usageLimit := policy.UsageLimit
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "a friend"
	}

	c, err := NewCoupon(Params{
		Code:             code,
		Name:             fmt.Sprintf("Referral from %s", name),
		Description:      fmt.Sprintf("%d%% off, shared by %s", policy.DiscountPercent, name),
		DiscountType:     DiscountTypePercentage,
		Value:            policy.DiscountPercent,
		MaxDiscountCents: &maxDiscount,
		ApplicableFor:    []string{CategoryAll},
		Scope:            ScopeReferral,
		StartDate:        now,
		EndDate:          now.AddDate(0, 0, policy.ValidDays),
		UsageLimit:       &usageLimit,
		UserUsageLimit:   1,
		ExcludeUsers:     []uuid.UUID{userID},
		IsActive:         true,
	}, userID)
	if err != nil {
		return nil, err
	}

	generatedBy := userID
	c.isReferralCoupon = true
	c.referralType = policy.ReferralType
	c.generatedByUserID = &generatedBy
	return c, nil
}

// IsLiveReferralOf reports whether c is an active, unexpired, unexhausted
// referral generated by userID.
func (c *Coupon) IsLiveReferralOf(userID uuid.UUID, now time.Time) bool {
	return c.isReferralCoupon &&
		c.generatedByUserID != nil && *c.generatedByUserID == userID &&
		c.isActive &&
		!c.endDate.Before(now) &&
		!c.IsExhausted()
}

// Retire deactivates a referral coupon that is no longer live so a new one
// can be issued.
func (c *Coupon) Retire() {
	if c.isActive {
		c.isActive = false
		c.IncrementVersion()
	}
}
