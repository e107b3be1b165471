package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Verdict is the ternary outcome of a feedback submission
type Verdict string

const (
	VerdictYes  Verdict = "yes"
	VerdictNo   Verdict = "no"
	VerdictSkip Verdict = "skip"
)

// ParseVerdict validates a verdict coming from a request body
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictYes, VerdictNo, VerdictSkip:
		return Verdict(s), nil
	}
	return "", errors.New("verdict must be 'yes', 'no' or 'skip'")
}

// FeedbackRecord is one rating between a host and a confirmed player after a
// completed session. The composite unique index is the source of truth for
// one-feedback-per-(rater, target, session, type): the check-then-insert race
// is closed by the store, not by the caller.
type FeedbackRecord struct {
	gorm.Model
	RaterID     string      `json:"rater_id" gorm:"not null;index;uniqueIndex:idx_feedback_tuple"`
	TargetID    string      `json:"target_id" gorm:"not null;index;uniqueIndex:idx_feedback_tuple"`
	SessionID   string      `json:"session_id" gorm:"not null;index;uniqueIndex:idx_feedback_tuple"`
	SessionType SessionType `json:"session_type" gorm:"type:varchar(16);not null;uniqueIndex:idx_feedback_tuple"`
	Verdict     Verdict     `json:"verdict" gorm:"type:varchar(8);not null"`
	Comment     string      `json:"comment,omitempty"`

	// At most one active flag per record; empty FlaggedBy means unflagged
	FlaggedBy  string     `json:"flagged_by,omitempty" gorm:"not null;default:''"`
	FlagReason string     `json:"flag_reason,omitempty"`
	FlaggedAt  *time.Time `json:"flagged_at,omitempty"`
}

// IsFlagged reports whether the record carries an active flag
func (f *FeedbackRecord) IsFlagged() bool {
	return f.FlaggedBy != ""
}

// ReputationStats is derived on read, never stored
type ReputationStats struct {
	TotalRatings int `json:"total_ratings"`
	YesCount     int `json:"yes_count"`
	NoCount      int `json:"no_count"`
	SkipCount    int `json:"skip_count"`
	Score        int `json:"score"`
}
