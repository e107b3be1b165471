package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Vendor is a game store or venue that hosts sessions. Read by the facade
// for display enrichment; never mutated by the membership engine.
type Vendor struct {
	ID        string    `json:"id" gorm:"unique;not null"`
	Name      string    `gorm:"not null" json:"name" validate:"required"`
	Address   string    `json:"address"`
	Website   string    `json:"website"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (v *Vendor) BeforeCreate(tx *gorm.DB) (err error) {
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	v.ID = uuidV7.String()

	return
}
