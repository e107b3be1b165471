package models

import (
	"time"

	"gorm.io/gorm"
)

// TokenType represents different types of tokens
type TokenType string

const TokenExpirationDuration = 30 * time.Minute
const TokenTypePasswordReset TokenType = "password_reset"

// Token represents a security token in the system
type Token struct {
	gorm.Model
	UserID    string     `gorm:"not null" json:"user_id" validate:"required"`
	Token     string     `json:"token" gorm:"type:varchar(512);not null;unique;index" validate:"required"`
	TokenType TokenType  `json:"token_type" gorm:"type:varchar(50);not null;index" validate:"required"`
	IsUsed    bool       `json:"is_used" gorm:"default:false"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// CreateToken creates a new token record in the database
func (t *Token) CreateToken(db *gorm.DB, tokenType TokenType, value string) error {
	t.TokenType = tokenType
	t.Token = value
	return db.Create(t).Error
}

// IsValid checks if the token is still within its expiration window
func (t *Token) IsValid() bool {
	expirationTime := t.CreatedAt.Add(TokenExpirationDuration)
	return time.Now().Before(expirationTime)
}
