package feedback

import (
	"context"
	"errors"
	"time"

	"questtable-backend/internal/apperr"
	"questtable-backend/internal/models"

	"gorm.io/gorm"
)

// Engine applies feedback submissions and flags to the feedback store.
// Uniqueness of (rater, target, session, type) lives in the store's unique
// index; the engine only translates the constraint violation into a typed
// failure.
type Engine struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// Submit records one verdict from rater about target for a completed
// session. Eligibility requires a host/confirmed-player relationship in
// either direction, read from the session's roster.
func (e *Engine) Submit(ctx context.Context, raterID, targetID, sessionID string, sessionType models.SessionType, verdict models.Verdict, comment string) (*models.FeedbackRecord, error) {
	if raterID == targetID {
		return nil, apperr.InvalidInput("you cannot rate yourself")
	}

	session, err := models.GetSessionByID(e.db.WithContext(ctx), sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("session not found")
		}
		return nil, apperr.Unavailable(err)
	}

	if session.Type() != sessionType {
		return nil, apperr.InvalidInput("session type does not match the session")
	}

	if !e.eligible(session, raterID, targetID) {
		return nil, apperr.New(apperr.CodeNotEligible, "feedback requires a completed session between you and this user")
	}

	record := &models.FeedbackRecord{
		RaterID:     raterID,
		TargetID:    targetID,
		SessionID:   sessionID,
		SessionType: sessionType,
		Verdict:     verdict,
		Comment:     comment,
	}

	if err := e.db.WithContext(ctx).Create(record).Error; err != nil {
		// The unique index is the authority; two racing submits resolve
		// here, not in a pre-check
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.New(apperr.CodeDuplicateFeedback, "you have already rated this user for this session")
		}
		return nil, apperr.Unavailable(err)
	}

	return record, nil
}

// eligible reports whether rater and target stood in a host/confirmed-player
// relationship for a session that has already taken place.
func (e *Engine) eligible(session *models.Session, raterID, targetID string) bool {
	if !session.IsCompleted(time.Now()) {
		return false
	}
	if session.HostID == raterID {
		return session.Roster.ConfirmedIndex(targetID) >= 0
	}
	if session.HostID == targetID {
		return session.Roster.ConfirmedIndex(raterID) >= 0
	}
	return false
}

// Flag attaches moderation metadata to a record, once. The single
// conditional update closes the race between two flaggers: whoever commits
// first wins, the other observes AlreadyFlagged. The record itself is never
// hidden or deleted here.
func (e *Engine) Flag(ctx context.Context, feedbackID uint, flaggedBy, reason string) (*models.FeedbackRecord, error) {
	if reason == "" {
		return nil, apperr.InvalidInput("a flag reason is required")
	}

	now := time.Now()
	res := e.db.WithContext(ctx).Model(&models.FeedbackRecord{}).
		Where("id = ? AND flagged_by = ''", feedbackID).
		Updates(map[string]interface{}{
			"flagged_by":  flaggedBy,
			"flag_reason": reason,
			"flagged_at":  &now,
		})
	if res.Error != nil {
		return nil, apperr.Unavailable(res.Error)
	}

	var record models.FeedbackRecord
	if err := e.db.WithContext(ctx).First(&record, feedbackID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("feedback record not found")
		}
		return nil, apperr.Unavailable(err)
	}

	if res.RowsAffected == 0 {
		return nil, apperr.New(apperr.CodeAlreadyFlagged, "this feedback has already been flagged")
	}

	return &record, nil
}

// Stats aggregates every verdict targeting a user. Flagged records count
// too: flags are advisory metadata for moderation, not score adjustments.
func (e *Engine) Stats(ctx context.Context, targetID string) (*models.ReputationStats, error) {
	var records []models.FeedbackRecord
	if err := e.db.WithContext(ctx).Where("target_id = ?", targetID).Find(&records).Error; err != nil {
		return nil, apperr.Unavailable(err)
	}

	stats := &models.ReputationStats{}
	for _, r := range records {
		stats.TotalRatings++
		switch r.Verdict {
		case models.VerdictYes:
			stats.YesCount++
		case models.VerdictNo:
			stats.NoCount++
		case models.VerdictSkip:
			stats.SkipCount++
		}
	}
	stats.Score = stats.YesCount - stats.NoCount

	return stats, nil
}

// Reputation is the response shape of StatsWithComments. Records is nil
// unless the requester may see per-record comments.
type Reputation struct {
	models.ReputationStats
	Records []models.FeedbackRecord `json:"records,omitempty"`
}

// StatsWithComments returns the aggregate plus, only for the target
// themselves or an admin, the underlying records with comments. The branch
// lives here and not in the web layer because it changes the response
// shape, not just a status code.
func (e *Engine) StatsWithComments(ctx context.Context, targetID, requesterID string, requesterIsAdmin bool) (*Reputation, error) {
	stats, err := e.Stats(ctx, targetID)
	if err != nil {
		return nil, err
	}

	rep := &Reputation{ReputationStats: *stats}
	if requesterID != targetID && !requesterIsAdmin {
		return rep, nil
	}

	var records []models.FeedbackRecord
	if err := e.db.WithContext(ctx).Where("target_id = ?", targetID).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, apperr.Unavailable(err)
	}
	rep.Records = records

	return rep, nil
}
