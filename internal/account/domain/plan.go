package domain

// FreePlanKey is the key of the catalog's free tier.
const FreePlanKey = "free"

// Plan is an immutable pricing-catalog entry. A snapshot of the selected plan
// is embedded in the user document so catalog edits never mutate existing
// subscriptions retroactively.
type Plan struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Level    int    `json:"level"`
	Price    int    `json:"price"`
	Limit    int    `json:"limit"`
	StripeID string `json:"stripe_id,omitempty"`
}

// IsFree reports whether the plan has no billing identifier. Free tiers are
// never represented remotely.
func (p Plan) IsFree() bool {
	return p.StripeID == ""
}

// Above reports whether this plan's tier is above the other. A nil other
// always compares below.
func (p Plan) Above(other *Plan) bool {
	if other == nil {
		return true
	}
	return p.Level > other.Level
}
