// Package domain contains the canonical subscription state maintained from
// billing provider events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states reported by the billing
// provider.
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// ParseSubscriptionStatus maps a provider status string onto the closed status
// set. Unrecognized values are rejected rather than silently stored.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(raw) {
	case SubscriptionStatusActive,
		SubscriptionStatusTrialing,
		SubscriptionStatusPastDue,
		SubscriptionStatusCanceled,
		SubscriptionStatusUnpaid,
		SubscriptionStatusIncomplete:
		return SubscriptionStatus(raw), nil
	default:
		return "", ErrUnknownStatus
	}
}

// LookupStatuses are the states under which an existing local record is
// considered current when matching an incoming event by user.
func LookupStatuses() []SubscriptionStatus {
	return []SubscriptionStatus{
		SubscriptionStatusActive,
		SubscriptionStatusTrialing,
		SubscriptionStatusPastDue,
		SubscriptionStatusIncomplete,
	}
}

// Subscription is the local canonical record for one provider subscription.
// At most one non-canceled row exists per user.
type Subscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey"`
	UserID                 snowflake.ID       `gorm:"not null;index:ix_subscriptions_user_status,priority:1"`
	ProviderSubscriptionID string             `gorm:"type:text;not null;uniqueIndex"`
	ProviderCustomerID     string             `gorm:"type:text;not null"`
	Status                 SubscriptionStatus `gorm:"type:text;not null;index:ix_subscriptions_user_status,priority:2"`
	PlanID                 string             `gorm:"type:text;not null"`
	PlanName               string             `gorm:"type:text"`
	PriceID                string             `gorm:"type:text;not null"`
	CurrentPeriodStart     time.Time          `gorm:"not null"`
	CurrentPeriodEnd       time.Time          `gorm:"not null"`
	CancelAtPeriodEnd      bool               `gorm:"not null;default:false"`
	CanceledAt             *time.Time
	TrialStart             *time.Time
	TrialEnd               *time.Time
	Metadata               datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// EventRecord is the receipt for one delivered provider event. The unique
// (provider, provider_event_id) index makes redelivered events no-ops.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_billing_events_provider_event,priority:1"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:ux_billing_events_provider_event,priority:2"`
	EventType       string         `gorm:"type:text;not null"`
	UserID          snowflake.ID   `gorm:"column:user_id"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "billing_events" }

// TopUpGrant records a one-time top-up keyed by the checkout session so a
// redelivered completion webhook cannot grant twice.
type TopUpGrant struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	CheckoutSessionID string       `gorm:"type:text;not null;uniqueIndex"`
	UserID            snowflake.ID `gorm:"not null;index"`
	Amount            int64        `gorm:"not null"`
	GrantedAt         time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (TopUpGrant) TableName() string { return "topup_grants" }
