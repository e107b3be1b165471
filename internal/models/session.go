package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionType distinguishes one-shot games from recurring campaigns
type SessionType string

const (
	TypeGame     SessionType = "game"
	TypeCampaign SessionType = "campaign"
)

// ParseSessionType validates a session type coming from a request body
func ParseSessionType(s string) (SessionType, error) {
	switch SessionType(s) {
	case TypeGame, TypeCampaign:
		return SessionType(s), nil
	}
	return "", errors.New("session type must be 'game' or 'campaign'")
}

// RosterEntry is one seat in a session's confirmed or pending list
type RosterEntry struct {
	UserID        string `json:"user_id"`
	CharacterID   string `json:"character_id,omitempty"`
	CharacterName string `json:"character_name,omitempty"`
}

// Roster is the full membership state of a session, stored as a single JSON
// column so every membership mutation is one conditional row update. A user
// id appears in at most one of the three sets; confirmed and pending keep
// insertion order (join queue position is visible to clients).
type Roster struct {
	Confirmed []RosterEntry `json:"confirmed"`
	Pending   []RosterEntry `json:"pending"`
	Denied    []string      `json:"denied"`
}

func (r Roster) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *Roster) Scan(value interface{}) error {
	// postgres hands back []byte, sqlite hands back string
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, &r)
	case string:
		return json.Unmarshal([]byte(v), &r)
	}
	return errors.New("unsupported roster column type")
}

func indexOf(entries []RosterEntry, userID string) int {
	for i, e := range entries {
		if e.UserID == userID {
			return i
		}
	}
	return -1
}

func (r Roster) ConfirmedIndex(userID string) int { return indexOf(r.Confirmed, userID) }
func (r Roster) PendingIndex(userID string) int   { return indexOf(r.Pending, userID) }

func (r Roster) IsDenied(userID string) bool {
	for _, id := range r.Denied {
		if id == userID {
			return true
		}
	}
	return false
}

// Contains reports whether the user occupies any roster set
func (r Roster) Contains(userID string) bool {
	return r.ConfirmedIndex(userID) >= 0 || r.PendingIndex(userID) >= 0 || r.IsDenied(userID)
}

type Session struct {
	ID          string    `json:"id" gorm:"unique;not null"`
	HostID      string    `gorm:"not null;index" json:"host_id" validate:"required"`
	VendorID    *string   `json:"vendor_id,omitempty" gorm:"index"`
	Game        string    `gorm:"not null" json:"game" validate:"required"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Date        time.Time `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	// Recurring sessions are campaigns; they share the membership model
	Recurring        bool `gorm:"default:false" json:"recurring"`
	Capacity         *int `json:"capacity,omitempty"` // nil means unlimited
	RequiresApproval bool `gorm:"default:false" json:"requires_approval"`
	// Cost in cents, read by the web layer, never mutated by membership ops
	CostPerSession *int `json:"cost_per_session,omitempty"`

	Roster Roster `gorm:"type:json" json:"roster"`
	// Version guards every roster mutation: UPDATE ... WHERE id = ? AND
	// version = ?. A stale writer touches zero rows and must reload.
	Version uint `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) (err error) {
	// uuid v7 keeps the primary key B-tree friendly
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	s.ID = uuidV7.String()

	return
}

// Type returns the session type used by the feedback subsystem
func (s *Session) Type() SessionType {
	if s.Recurring {
		return TypeCampaign
	}
	return TypeGame
}

// IsCompleted reports whether the session date has passed, which is what
// makes its participants eligible to rate each other
func (s *Session) IsCompleted(now time.Time) bool {
	return s.Date.Before(now)
}

func GetSessionByID(db *gorm.DB, id string) (*Session, error) {
	var session Session
	result := db.Where("id = ?", id).First(&session)

	if result.Error != nil {
		return nil, result.Error
	}
	return &session, nil
}

func (s *Session) GetRedisChannel() string {
	return "channel-session-" + s.ID
}
