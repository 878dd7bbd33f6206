// Package domain defines the feature gate: the closed feature set, per-user
// quota rows and the access decision model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Feature identifies one gated capability.
type Feature string

const (
	FeaturePhoneLookup  Feature = "phone_lookup"
	FeatureNameLookup   Feature = "name_lookup"
	FeatureImageSearch  Feature = "image_search"
	FeatureRecordsCheck Feature = "records_check"
	FeatureSocialScan   Feature = "social_scan"
)

// AllFeatures returns the full feature set in stable order.
func AllFeatures() []Feature {
	return []Feature{
		FeaturePhoneLookup,
		FeatureNameLookup,
		FeatureImageSearch,
		FeatureRecordsCheck,
		FeatureSocialScan,
	}
}

// ParseFeature validates a feature name from request input.
func ParseFeature(raw string) (Feature, error) {
	switch Feature(raw) {
	case FeaturePhoneLookup, FeatureNameLookup, FeatureImageSearch,
		FeatureRecordsCheck, FeatureSocialScan:
		return Feature(raw), nil
	default:
		return "", ErrInvalidFeature
	}
}

// InitialQuota is the per-feature allowance granted when a usage row is first
// created and on every subscription period reset.
const InitialQuota int64 = 5

// FeatureUsage tracks one user's remaining allowance for one feature.
type FeatureUsage struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	UserID      snowflake.ID `gorm:"not null;uniqueIndex:ux_feature_usage_user_feature,priority:1"`
	Feature     Feature      `gorm:"type:text;not null;uniqueIndex:ux_feature_usage_user_feature,priority:2"`
	Remaining   int64        `gorm:"not null"`
	LastResetAt time.Time    `gorm:"not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FeatureUsage) TableName() string { return "feature_usage" }

// Bucket names the entitlement source that satisfied (or denied) a gate check.
type Bucket string

const (
	BucketCredit       Bucket = "credit"
	BucketPremiumTime  Bucket = "premium_time"
	BucketSubscription Bucket = "subscription_quota"
	BucketDenied       Bucket = "denied"
)

// Decision is the outcome of one gate check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Bucket  Bucket `json:"bucket"`
	// Remaining reflects the balance of the consumed bucket after the check,
	// when that bucket is countable.
	Remaining int64 `json:"remaining"`
}

// UsageSummary is the read-only view returned by the gate preview.
type UsageSummary struct {
	PremiumCredits   int64             `json:"premium_credits"`
	PremiumExpiresAt *time.Time        `json:"premium_expires_at,omitempty"`
	HasSubscription  bool              `json:"has_subscription"`
	Quotas           map[Feature]int64 `json:"quotas"`
}
