package entitlement

import "github.com/mbd888/gangboard/internal/tenant"

// Feature is a gated capability of the product.
type Feature string

const (
	// Free for every tier.
	FeatureAttendance    Feature = "attendance"
	FeatureLeave         Feature = "leave"
	FeatureAnnouncements Feature = "announcements"

	// Any paid tier.
	FeatureFinance       Feature = "finance"
	FeatureExportCSV     Feature = "export_csv"
	FeatureAutoReminders Feature = "auto_reminders"

	// Top tier only.
	FeatureAnalytics      Feature = "analytics"
	FeatureMonthlySummary Feature = "monthly_summary"
	FeatureCustomBranding Feature = "custom_branding"
	FeatureMultiAdmin     Feature = "multi_admin"
	FeatureWebhookNotify  Feature = "webhook_notify"
)

// requirement is what a tier must offer for a feature.
type requirement int

const (
	requireNone requirement = iota
	requirePaid
	requireTopTier
)

type featureSpec struct {
	requires requirement
	flag     string // global kill-switch key, "" for none
}

var catalog = map[Feature]featureSpec{
	FeatureAttendance:    {requires: requireNone, flag: "attendance"},
	FeatureLeave:         {requires: requireNone, flag: "leave"},
	FeatureAnnouncements: {requires: requireNone},

	FeatureFinance:       {requires: requirePaid, flag: "finance"},
	FeatureExportCSV:     {requires: requirePaid, flag: "export"},
	FeatureAutoReminders: {requires: requirePaid, flag: "reminders"},

	FeatureAnalytics:      {requires: requireTopTier, flag: "analytics"},
	FeatureMonthlySummary: {requires: requireTopTier, flag: "analytics"},
	FeatureCustomBranding: {requires: requireTopTier},
	FeatureMultiAdmin:     {requires: requireTopTier},
	FeatureWebhookNotify:  {requires: requireTopTier, flag: "webhooks"},
}

// AllFeatures lists every feature in display order.
var AllFeatures = []Feature{
	FeatureAttendance, FeatureLeave, FeatureAnnouncements,
	FeatureFinance, FeatureExportCSV, FeatureAutoReminders,
	FeatureAnalytics, FeatureMonthlySummary, FeatureCustomBranding, FeatureMultiAdmin, FeatureWebhookNotify,
}

// ValidFeature reports whether f is a known feature.
func ValidFeature(f Feature) bool {
	_, ok := catalog[f]
	return ok
}

// FlagKey returns the kill-switch key for a feature, or "" when the
// feature has no switch.
func FlagKey(f Feature) string {
	return catalog[f].flag
}

// TopTierOnly reports whether f needs the top tier.
func TopTierOnly(f Feature) bool {
	return catalog[f].requires == requireTopTier
}

// Includes reports whether a tier's plan includes the feature, ignoring
// kill-switches. Unknown features are never included.
func Includes(cfg tenant.TierConfig, f Feature) bool {
	spec, ok := catalog[f]
	if !ok {
		return false
	}
	switch spec.requires {
	case requireNone:
		return true
	case requirePaid:
		return cfg.Paid
	case requireTopTier:
		return cfg.TopTier
	}
	return false
}

// FeaturesFor lists the features included in a tier.
func FeaturesFor(cfg tenant.TierConfig) []Feature {
	out := make([]Feature, 0, len(AllFeatures))
	for _, f := range AllFeatures {
		if Includes(cfg, f) {
			out = append(out, f)
		}
	}
	return out
}
