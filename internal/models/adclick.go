package models

import (
	"gorm.io/gorm"
)

// AdClick records a click on a sponsored placement. Write-only from the API;
// aggregation happens in the advertiser dashboard, not here.
type AdClick struct {
	gorm.Model
	Slug     string `json:"slug" gorm:"not null;index"`
	UserID   string `json:"user_id" gorm:"index"` // empty for anonymous visitors
	Referrer string `json:"referrer"`
}
