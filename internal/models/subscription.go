package models

import (
	"time"

	"gorm.io/gorm"
)

// SubscriptionTier represents different subscription tiers
type SubscriptionTier string

const (
	TierFree SubscriptionTier = "free"
	TierPro  SubscriptionTier = "pro"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusIncomplete SubscriptionStatus = "incomplete"
)

// Subscription represents a host's Pro subscription. Pro hosts can run
// recurring campaigns with unlimited listings.
type Subscription struct {
	gorm.Model
	HostID               string             `gorm:"not null;uniqueIndex" json:"host_id"`
	StripeCustomerID     string             `gorm:"not null" json:"stripe_customer_id"`
	StripeSubscriptionID string             `gorm:"not null;unique" json:"stripe_subscription_id"`
	Status               SubscriptionStatus `gorm:"not null" json:"status"`
	Tier                 SubscriptionTier   `gorm:"not null;default:'free'" json:"tier"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt           *time.Time         `json:"canceled_at,omitempty"`
}

// GetSubscriptionByHostID retrieves a subscription by host user ID
func GetSubscriptionByHostID(db *gorm.DB, hostID string) (*Subscription, error) {
	var subscription Subscription
	result := db.Where("host_id = ?", hostID).First(&subscription)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil // No subscription found, which is valid for free tier
		}
		return nil, result.Error
	}

	return &subscription, nil
}

// IsActive returns true if the subscription is active
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

func GetSubscriptionByStripeID(db *gorm.DB, stripeSubscriptionID string) (*Subscription, error) {
	var subscription Subscription
	result := db.Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&subscription)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, result.Error
	}

	return &subscription, nil
}
