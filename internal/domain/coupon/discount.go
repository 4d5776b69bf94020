package coupon

// Discount is the outcome of applying a coupon to an order amount.
type Discount struct {
	DiscountCents    int64
	FinalAmountCents int64
}

// ComputeDiscount applies c to orderAmountCents. Percentages always round down
// and are clamped to 0..100; the final amount never goes below zero.
func ComputeDiscount(c *Coupon, orderAmountCents int64) Discount {
	if orderAmountCents <= 0 {
		return Discount{DiscountCents: 0, FinalAmountCents: 0}
	}

	var discount int64
	switch c.discountType {
	case DiscountTypeFixed:
		discount = c.value
	case DiscountTypePercentage:
		pct := c.value
		if pct > 100 {
			pct = 100
		}
		// split so the product cannot overflow int64
		discount = orderAmountCents/100*pct + orderAmountCents%100*pct/100
		if c.maxDiscountCents != nil && discount > *c.maxDiscountCents {
			discount = *c.maxDiscountCents
		}
	}

	if discount < 0 {
		discount = 0
	}
	if discount > orderAmountCents {
		discount = orderAmountCents
	}
	return Discount{
		DiscountCents:    discount,
		FinalAmountCents: orderAmountCents - discount,
	}
}
