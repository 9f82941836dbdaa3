package domain

// MonthlyPrice returns the monthly price in minor units. A custom price on
// the assignment replaces the list price; the contract discount applies last
// and never takes the price below zero.
func MonthlyPrice(plan Plan, assignment Assignment, contract *Contract) int64 {
	var price int64
	switch {
	case assignment.CustomPriceCents != nil:
		price = *assignment.CustomPriceCents
	case plan.BillingType == BillingPerUnit:
		qty := assignment.Quantity
		if qty < 1 {
			qty = 1
		}
		price = plan.PerUnitPriceCents * qty
	default:
		price = plan.BasePriceCents
	}

	if contract == nil {
		return price
	}
	switch contract.DiscountType {
	case DiscountFlat:
		price -= contract.DiscountValue
	case DiscountPercent:
		bp := contract.DiscountValue
		if bp > 10000 {
			bp = 10000
		}
		price = price * (10000 - bp) / 10000
	}
	if price < 0 {
		return 0
	}
	return price
}
