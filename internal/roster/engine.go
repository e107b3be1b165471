package roster

import (
	"context"
	"errors"
	"fmt"

	"questtable-backend/internal/apperr"
	"questtable-backend/internal/models"

	"gorm.io/gorm"
)

// Engine applies membership operations to a session's roster. Every mutation
// is a load, a validation against the loaded copy, and a single conditional
// write guarded by the session's version column. A concurrent writer that
// commits first bumps the version; the loser touches zero rows, reloads and
// re-validates, so preconditions are always judged against the state the
// write actually replaced. There is no other lock.
type Engine struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// casMaxAttempts bounds the reload loop under contention before surfacing
// an Unavailable failure the caller may retry with backoff.
const casMaxAttempts = 5

var errContention = errors.New("conditional write contention exhausted")

func (e *Engine) mutate(ctx context.Context, sessionID string, apply func(s *models.Session) error) (*models.Session, error) {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		var s models.Session
		if err := e.db.WithContext(ctx).Where("id = ?", sessionID).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("session not found")
			}
			return nil, apperr.Unavailable(err)
		}

		if err := apply(&s); err != nil {
			return nil, err
		}

		// Capacity is coupled to the confirmed list, so it rides the same
		// guarded write as the roster itself
		res := e.db.WithContext(ctx).Model(&models.Session{}).
			Where("id = ? AND version = ?", s.ID, s.Version).
			Updates(map[string]interface{}{
				"roster":   s.Roster,
				"capacity": s.Capacity,
				"version":  s.Version + 1,
			})
		if res.Error != nil {
			return nil, apperr.Unavailable(res.Error)
		}
		if res.RowsAffected == 1 {
			s.Version++
			return &s, nil
		}
		// Lost the race to a concurrent writer; reload and re-validate
	}
	return nil, apperr.Unavailable(fmt.Errorf("session %s: %w", sessionID, errContention))
}

// Join adds the user to the roster: into the pending list when the session
// requires host approval, otherwise straight into the confirmed list if a
// seat is free. Two racing joins for the last seat resolve so that exactly
// one succeeds and the other observes CapacityExceeded. Safe to retry after
// a timeout: a retry of a committed join fails with AlreadyMember.
func (e *Engine) Join(ctx context.Context, sessionID, userID, characterID, characterName string) (*models.Session, error) {
	return e.mutate(ctx, sessionID, func(s *models.Session) error {
		if s.Roster.ConfirmedIndex(userID) >= 0 || s.Roster.PendingIndex(userID) >= 0 {
			return apperr.New(apperr.CodeAlreadyMember, "you have already joined this session")
		}
		// Denial is durable: a denied player cannot re-request a seat
		if s.Roster.IsDenied(userID) {
			return apperr.Forbidden("the host has removed you from this session")
		}

		entry := models.RosterEntry{
			UserID:        userID,
			CharacterID:   characterID,
			CharacterName: characterName,
		}

		if s.RequiresApproval {
			s.Roster.Pending = append(s.Roster.Pending, entry)
			return nil
		}

		if s.Capacity != nil && len(s.Roster.Confirmed) >= *s.Capacity {
			return apperr.New(apperr.CodeCapacityExceeded, "this session is full")
		}
		s.Roster.Confirmed = append(s.Roster.Confirmed, entry)
		return nil
	})
}

// Leave removes the user from whichever of the confirmed or pending lists
// contains them. Leaving when absent is NotAMember, not a silent no-op, so
// callers can tell "already left" from "successfully left". The denied list
// is never touched here.
func (e *Engine) Leave(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	return e.mutate(ctx, sessionID, func(s *models.Session) error {
		if i := s.Roster.ConfirmedIndex(userID); i >= 0 {
			s.Roster.Confirmed = append(s.Roster.Confirmed[:i], s.Roster.Confirmed[i+1:]...)
			return nil
		}
		if i := s.Roster.PendingIndex(userID); i >= 0 {
			s.Roster.Pending = append(s.Roster.Pending[:i], s.Roster.Pending[i+1:]...)
			return nil
		}
		return apperr.New(apperr.CodeNotAMember, "you are not a member of this session")
	})
}

// Approve moves a pending player to the confirmed list, subject to capacity.
// Host authority and the pending precondition are validated inside the same
// conditional write cycle as the mutation itself.
func (e *Engine) Approve(ctx context.Context, sessionID, hostID, playerID string) (*models.Session, error) {
	return e.mutate(ctx, sessionID, func(s *models.Session) error {
		if s.HostID != hostID {
			return apperr.Forbidden("only the host can approve players")
		}
		i := s.Roster.PendingIndex(playerID)
		if i < 0 {
			return apperr.New(apperr.CodeNotPending, "player has no pending request for this session")
		}
		if s.Capacity != nil && len(s.Roster.Confirmed) >= *s.Capacity {
			return apperr.New(apperr.CodeCapacityExceeded, "this session is full")
		}
		entry := s.Roster.Pending[i]
		s.Roster.Pending = append(s.Roster.Pending[:i], s.Roster.Pending[i+1:]...)
		s.Roster.Confirmed = append(s.Roster.Confirmed, entry)
		return nil
	})
}

// Deny moves a pending player to the denied list. The authority check runs
// against the same loaded state the conditional write commits, so a player's
// concurrent Leave cannot let an unauthorized caller slip through.
func (e *Engine) Deny(ctx context.Context, sessionID, hostID, playerID string) (*models.Session, error) {
	return e.mutate(ctx, sessionID, func(s *models.Session) error {
		if s.HostID != hostID {
			return apperr.Forbidden("only the host can deny players")
		}
		i := s.Roster.PendingIndex(playerID)
		if i < 0 {
			return apperr.New(apperr.CodeNotPending, "player has no pending request for this session")
		}
		s.Roster.Pending = append(s.Roster.Pending[:i], s.Roster.Pending[i+1:]...)
		s.Roster.Denied = append(s.Roster.Denied, playerID)
		return nil
	})
}

// Resize changes the session's capacity, host only. Shrinking below the
// current confirmed count is rejected: a seat count that already holds
// confirmed players cannot be broken after the fact. Running inside the
// conditional write cycle closes the race with a concurrent Join that
// validated against the old capacity.
func (e *Engine) Resize(ctx context.Context, sessionID, hostID string, capacity *int) (*models.Session, error) {
	return e.mutate(ctx, sessionID, func(s *models.Session) error {
		if s.HostID != hostID {
			return apperr.Forbidden("only the host can change the session capacity")
		}
		if capacity != nil && len(s.Roster.Confirmed) > *capacity {
			return apperr.New(apperr.CodeCapacityExceeded, "capacity cannot be smaller than the number of confirmed players")
		}
		s.Capacity = capacity
		return nil
	})
}

// UpdateCharacter sets the character a confirmed player brings to the table.
// No capacity implications.
func (e *Engine) UpdateCharacter(ctx context.Context, sessionID, userID, characterID, characterName string) (*models.Session, error) {
	return e.mutate(ctx, sessionID, func(s *models.Session) error {
		i := s.Roster.ConfirmedIndex(userID)
		if i < 0 {
			return apperr.New(apperr.CodeNotAPlayer, "only confirmed players can update their character")
		}
		s.Roster.Confirmed[i].CharacterID = characterID
		s.Roster.Confirmed[i].CharacterName = characterName
		return nil
	})
}
