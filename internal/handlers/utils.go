package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"questtable-backend/internal/apperr"
	"questtable-backend/internal/common"
	"questtable-backend/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/livekit/protocol/auth"
	"gorm.io/gorm"
)

// GetAuthenticatedUser returns the authenticated user from the JWT claims
// Returns nil and false if the user is not authenticated or not found
func getAuthenticatedUserFromJWTCommon(c echo.Context, jwtIssuer common.JWTIssuer, db *gorm.DB) (*models.User, bool) {
	email, err := jwtIssuer.GetUserEmail(c)
	if err != nil {
		return nil, false
	}

	// Fetch user from database
	user, err := models.GetUserByEmail(db, email)
	if err != nil {
		return nil, false
	}

	return user, true
}

func (h *AuthHandler) getAuthenticatedUserFromJWT(c echo.Context) (*models.User, bool) {
	return getAuthenticatedUserFromJWTCommon(c, h.JwtIssuer, h.DB)
}

func (sh *SessionHandler) getAuthenticatedUserFromJWT(c echo.Context) (*models.User, bool) {
	return getAuthenticatedUserFromJWTCommon(c, sh.JwtIssuer, sh.DB)
}

func (fh *FeedbackHandler) getAuthenticatedUserFromJWT(c echo.Context) (*models.User, bool) {
	return getAuthenticatedUserFromJWTCommon(c, fh.JwtIssuer, fh.DB)
}

func (bh *BillingHandler) getAuthenticatedUserFromJWT(c echo.Context) (*models.User, bool) {
	return getAuthenticatedUserFromJWTCommon(c, bh.JwtIssuer, bh.DB)
}

// appError translates a typed engine failure into the HTTP response. The
// body carries the machine-readable code alongside the message so clients
// can branch without parsing prose.
func appError(err error) *echo.HTTPError {
	return echo.NewHTTPError(apperr.HTTPStatus(err), map[string]string{
		"code":    string(apperr.CodeOf(err)),
		"message": err.Error(),
	})
}

// generateTableToken creates a LiveKit join token for a session's virtual
// table. The room name is the session id; the identity encodes both session
// and user so moderation tooling can map participants back to accounts.
func generateTableToken(s *common.ServerState, session *models.Session, participant *models.User) (string, error) {
	identity := fmt.Sprintf("table:%s:%s", session.ID, participant.ID)

	token := auth.
		NewAccessToken(s.Config.Livekit.APIKey, s.Config.Livekit.Secret).
		SetIdentity(identity).
		SetValidFor(6 * time.Hour).
		SetName(participant.GetDisplayName()).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin: true,
			Room:     session.ID,
		})

	jwt, err := token.ToJWT()
	if err != nil {
		return "", fmt.Errorf("creating table token: %w", err)
	}
	return jwt, nil
}

// publishEvent pushes a realtime event to a redis channel. No-op without a
// redis connection; delivery is best-effort and never fails the request.
func publishEvent(c echo.Context, s *common.ServerState, channel string, event map[string]interface{}) {
	if s.Redis == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		c.Logger().Errorf("Failed to marshal realtime event: %v", err)
		return
	}

	if err := s.Redis.Publish(c.Request().Context(), channel, payload).Err(); err != nil {
		c.Logger().Warnf("Failed to publish realtime event to %s: %v", channel, err)
	}
}

// checkUserHasAccess checks if a host has an active subscription or trial.
// Returns true if the host is a Pro subscriber or has an active trial.
func checkUserHasAccess(db *gorm.DB, user *models.User) (bool, error) {
	userWithSub, err := models.GetUserWithSubscription(db, user)
	if err != nil {
		return false, fmt.Errorf("failed to get user subscription: %w", err)
	}

	hasAccess := userWithSub.IsPro
	if !hasAccess && userWithSub.IsTrial && userWithSub.TrialEndsAt != nil {
		hasAccess = userWithSub.TrialEndsAt.After(time.Now())
	}

	return hasAccess, nil
}
