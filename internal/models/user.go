package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// EmailSubscriptions tracks user's email subscription preferences
type EmailSubscriptions struct {
	MarketingEmails bool       `gorm:"default:false" json:"marketing_emails"`
	SessionEmails   bool       `gorm:"default:true" json:"session_emails"`
	UnsubscribedAt  *time.Time `json:"unsubscribed_at,omitempty"`
}

func (es EmailSubscriptions) Value() (driver.Value, error) {
	return json.Marshal(es)
}

func (es *EmailSubscriptions) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, &es)
	case string:
		return json.Unmarshal([]byte(v), &es)
	}
	return errors.New("unsupported email subscriptions column type")
}

type User struct {
	ID             string    `json:"id" gorm:"unique;not null"`
	FirstName      string    `gorm:"not null" json:"first_name" validate:"required"`
	LastName       string    `gorm:"not null" json:"last_name" validate:"required"`
	Email          string    `gorm:"not null;unique" json:"email" validate:"required,email"`
	IsAdmin        bool      `gorm:"default:false" json:"is_admin"`
	Password       string    `gorm:"-" json:"password" validate:"required,min=8"`
	HashedPassword string    `json:"-"`
	AvatarURL      string    `json:"avatar_url"`
	City           string    `json:"city"`
	Bio            string    `json:"bio"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	// Free-form onboarding/preferences payload
	Metadata           map[string]interface{} `gorm:"serializer:json" json:"metadata"`
	EmailSubscriptions EmailSubscriptions     `gorm:"type:json" json:"email_subscriptions"`
	// Separate from the public user id so that knowing someone's profile URL
	// is not enough to unsubscribe them
	UnsubscribeID string `json:"unsubscribe_id" gorm:"unique;not null"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	// uuid v7 keeps the primary key B-tree friendly
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	u.ID = uuidV7.String()

	unsubUUID, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	u.UnsubscribeID = unsubUUID.String()

	u.EmailSubscriptions.MarketingEmails = true
	u.EmailSubscriptions.SessionEmails = true
	u.EmailSubscriptions.UnsubscribedAt = nil

	// Hash password if it's set
	if u.Password != "" {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		u.HashedPassword = string(hashedPassword)
		// Clear the plain text password
		u.Password = ""
	}

	return
}

func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password))
	return err == nil
}

// HashPassword hashes a plain text password with bcrypt
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func GetUserByEmail(db *gorm.DB, email string) (*User, error) {
	var user User
	result := db.Where("email = ?", email).First(&user)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, errors.New("User not found")
		}
		return nil, result.Error
	}
	return &user, nil
}

func GetUserByID(db *gorm.DB, id string) (*User, error) {
	var user *User
	result := db.Where("id = ?", id).First(&user)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, errors.New("User not found")
		}
		return nil, result.Error
	}
	return user, nil
}

func (u *User) GetRedisChannel() string {
	return fmt.Sprintf("channel-user-%s", u.ID)
}

// GetDisplayName returns the user's display name
func (u *User) GetDisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return fmt.Sprintf("%s %s", u.FirstName, u.LastName)
}

// UnsubscribeFromAllEmails unsubscribes user from all emails
func (u *User) UnsubscribeFromAllEmails(db *gorm.DB) error {
	now := time.Now()
	u.EmailSubscriptions.UnsubscribedAt = &now
	u.EmailSubscriptions.MarketingEmails = false
	u.EmailSubscriptions.SessionEmails = false

	return db.Save(u).Error
}

type UserWithSubscription struct {
	User
	IsPro       bool       `json:"is_pro"`
	IsTrial     bool       `json:"is_trial"`
	TrialEndsAt *time.Time `json:"trial_ends_at,omitempty"`
}

// GetUserWithSubscription returns a user with host subscription information
// 1. Fetch if any sub for the host exists and if its active
// 2. If no sub, return `IsTrial` and `TrialEndsAt`
func GetUserWithSubscription(db *gorm.DB, user *User) (*UserWithSubscription, error) {
	sub, err := GetSubscriptionByHostID(db, user.ID)
	if err != nil {
		return nil, err
	}

	if sub != nil && sub.IsActive() {
		return &UserWithSubscription{User: *user, IsPro: true}, nil
	}

	// Trial is account creation + 30 days
	trialEndsAt := user.CreatedAt.AddDate(0, 0, 30)
	return &UserWithSubscription{
		User:        *user,
		IsTrial:     true,
		TrialEndsAt: &trialEndsAt,
		IsPro:       false,
	}, nil
}
