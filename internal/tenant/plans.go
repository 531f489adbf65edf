package tenant

import "strings"

// Tier identifies the subscription plan of a gang.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierTrial   Tier = "TRIAL"
	TierPro     Tier = "PRO"
	TierPremium Tier = "PREMIUM"
)

// TierConfig defines limits for a subscription tier. Feature inclusion is
// decided by the entitlement package; the catalogue only records whether a
// tier is paid and whether it is the top tier.
type TierConfig struct {
	Tier         Tier   `json:"tier"`
	Name         string `json:"name"`
	MaxMembers   int    `json:"maxMembers"`
	Paid         bool   `json:"paid"`
	TopTier      bool   `json:"topTier"`
	DurationDays int    `json:"durationDays"` // default license period, 0 for unlicensable tiers
}

// Tiers is the hardcoded tier catalogue.
var Tiers = map[Tier]TierConfig{
	TierFree: {
		Tier:       TierFree,
		Name:       "Free",
		MaxMembers: 10,
	},
	TierTrial: {
		Tier:       TierTrial,
		Name:       "Trial",
		MaxMembers: 25,
		Paid:       true,
	},
	TierPro: {
		Tier:         TierPro,
		Name:         "Pro",
		MaxMembers:   25,
		Paid:         true,
		DurationDays: 30,
	},
	TierPremium: {
		Tier:         TierPremium,
		Name:         "Premium",
		MaxMembers:   50,
		Paid:         true,
		TopTier:      true,
		DurationDays: 30,
	},
}

// tierRank orders tiers for upgrade/downgrade comparisons.
var tierRank = map[Tier]int{
	TierFree:    0,
	TierTrial:   1,
	TierPro:     2,
	TierPremium: 3,
}

// ConfigFor returns the catalogue entry for a tier. Unknown tiers resolve
// to FREE so a corrupt row never grants paid access.
func ConfigFor(t Tier) TierConfig {
	cfg, ok := Tiers[t]
	if !ok {
		return Tiers[TierFree]
	}
	return cfg
}

// ValidTier returns true if the tier name is recognised.
func ValidTier(t Tier) bool {
	_, ok := Tiers[t]
	return ok
}

// ParseTier normalises user input such as "pro" into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !ValidTier(t) {
		return "", ErrInvalidTier
	}
	return t, nil
}

// Licensable reports whether license keys may be issued for the tier.
// FREE and TRIAL are never sold as keys.
func Licensable(t Tier) bool {
	return t == TierPro || t == TierPremium
}

// Rank returns the ordering of a tier; unknown tiers rank as FREE.
func Rank(t Tier) int {
	return tierRank[t]
}
