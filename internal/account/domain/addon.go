package domain

import "strings"

// OverageAddonKey toggles the user's allow_overage flag as a side effect of
// adding or removing the entitlement.
const OverageAddonKey = "overage"

// Addon is a pricing-catalog entry for an optional paid feature stacked on a
// plan. Pricing depends on the plan tier, so the entry carries a map from plan
// key to billing price id.
type Addon struct {
	Key       string            `json:"key"`
	ProductID string            `json:"product_id"`
	PriceIDs  map[string]string `json:"price_ids"`
	Metered   bool              `json:"metered"`
}

// PriceFor resolves the billing price id for a plan tier. Lookup order: exact
// plan key, then the "yearly" entry when the key carries a year suffix, then
// "monthly". A false result means the catalog has no usable entry for this
// tier, which callers must treat as a configuration error.
func (a Addon) PriceFor(planKey string) (string, bool) {
	if id, ok := a.PriceIDs[planKey]; ok && id != "" {
		return id, true
	}
	fallback := "monthly"
	if strings.HasSuffix(planKey, "year") || strings.HasSuffix(planKey, "yearly") {
		fallback = "yearly"
	}
	id, ok := a.PriceIDs[fallback]
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// HasPrice reports whether any tier of this addon maps to the price id.
func (a Addon) HasPrice(priceID string) bool {
	for _, id := range a.PriceIDs {
		if id == priceID {
			return true
		}
	}
	return false
}

// Entitlement is a user's materialized hold on an addon, carrying the billing
// price the user is actually subscribed at.
type Entitlement struct {
	Key     string `json:"key"`
	PriceID string `json:"price_id"`
}
