package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"questtable-backend/internal/common"
	"questtable-backend/internal/ical"
	"questtable-backend/internal/models"
	"questtable-backend/internal/notifications"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// SessionHandler serves session CRUD and the membership operations. All
// roster mutations go through the roster engine; this layer only does
// authentication, binding and side effects (emails, realtime events).
type SessionHandler struct {
	common.ServerState
}

func NewSessionHandler(state common.ServerState) *SessionHandler {
	return &SessionHandler{ServerState: state}
}

type SessionRequest struct {
	Game             string    `json:"game" validate:"required"`
	Description      string    `json:"description"`
	Location         string    `json:"location"`
	Date             time.Time `json:"date" validate:"required"`
	StartTime        string    `json:"start_time"`
	EndTime          string    `json:"end_time"`
	Recurring        bool      `json:"recurring"`
	Capacity         *int      `json:"capacity"`
	RequiresApproval bool      `json:"requires_approval"`
	CostPerSession   *int      `json:"cost_per_session"`
	VendorID         *string   `json:"vendor_id"`
}

type seatRequest struct {
	CharacterID   string `json:"character_id"`
	CharacterName string `json:"character_name"`
}

// CreateSession creates a session hosted by the authenticated user.
// Recurring campaigns are a Pro feature; one-shot games are free.
func (sh *SessionHandler) CreateSession(c echo.Context) error {
	user, isAuthenticated := sh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	req := new(SessionRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if req.Capacity != nil && *req.Capacity < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "capacity must be at least 1")
	}

	if req.Recurring {
		hasAccess, err := checkUserHasAccess(sh.DB, user)
		if err != nil {
			c.Logger().Error("Failed to check subscription access:", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to check subscription")
		}
		if !hasAccess {
			return echo.NewHTTPError(http.StatusForbidden, "Running recurring campaigns requires a Pro subscription")
		}
	}

	if req.VendorID != nil {
		var vendor models.Vendor
		if err := sh.DB.Where("id = ?", *req.VendorID).First(&vendor).Error; err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Unknown vendor")
		}
	}

	session := models.Session{
		HostID:           user.ID,
		VendorID:         req.VendorID,
		Game:             req.Game,
		Description:      req.Description,
		Location:         req.Location,
		Date:             req.Date,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		Recurring:        req.Recurring,
		Capacity:         req.Capacity,
		RequiresApproval: req.RequiresApproval,
		CostPerSession:   req.CostPerSession,
		Roster: models.Roster{
			Confirmed: []models.RosterEntry{},
			Pending:   []models.RosterEntry{},
			Denied:    []string{},
		},
	}

	sh.geocodeLocation(c, &session)

	if err := sh.DB.Create(&session).Error; err != nil {
		c.Logger().Errorf("Failed to create session: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create session")
	}

	_ = notifications.SendSlackNotification(fmt.Sprintf("Session created: '%s' by host %s", session.Game, user.ID), sh.Config)

	return c.JSON(http.StatusCreated, session)
}

// geocodeLocation resolves the session's free-text location to coordinates.
// Best-effort: a geocoding failure never fails the request.
func (sh *SessionHandler) geocodeLocation(c echo.Context, session *models.Session) {
	if sh.Geocoder == nil || session.Location == "" {
		return
	}

	lat, lng, found, err := sh.Geocoder.Forward(session.Location)
	if err != nil {
		c.Logger().Warnf("Geocoding failed for %q: %v", session.Location, err)
		return
	}
	if found {
		session.Latitude = &lat
		session.Longitude = &lng
	}
}

func (sh *SessionHandler) GetSession(c echo.Context) error {
	_, isAuthenticated := sh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	view, err := sh.Schedule.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return appError(err)
	}

	return c.JSON(http.StatusOK, view)
}

// GetSessions returns every session the user hosts or appears on the
// roster of, soonest first.
func (sh *SessionHandler) GetSessions(c echo.Context) error {
	user, isAuthenticated := sh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	views, err := sh.Schedule.ListForUser(c.Request().Context(), user.ID)
	if err != nil {
		return appError(err)
	}

	return c.JSON(http.StatusOK, views)
}

func (sh *SessionHandler) UpdateSession(c echo.Context) error {
	user, isAuthenticated := sh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	session, err := models.GetSessionByID(sh.DB, c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load session")
	}

	if session.HostID != user.ID {
		return echo.NewHTTPError(http.StatusForbidden, "Only the host can update a session")
	}

	req := new(SessionRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if req.Capacity != nil && *req.Capacity < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "capacity must be at least 1")
	}

	locationChanged := req.Location != session.Location

	// Capacity is coupled to the roster: shrinking below the confirmed
	// count would strand seated players, so it only changes through the
	// engine's conditional write, never through a plain column update.
	session, err = sh.Roster.Resize(c.Request().Context(), session.ID, user.ID, req.Capacity)
	if err != nil {
		return appError(err)
	}

	session.Game = req.Game
	session.Description = req.Description
	session.Location = req.Location
	session.Date = req.Date
	session.StartTime = req.StartTime
	session.EndTime = req.EndTime
	session.RequiresApproval = req.RequiresApproval
	session.CostPerSession = req.CostPerSession

	if locationChanged {
		session.Latitude = nil
		session.Longitude = nil
		sh.geocodeLocation(c, session)
	}

	// Roster, capacity and version are owned by the roster engine; never
	// written here
	updates := map[string]interface{}{
		"game":              session.Game,
		"description":       session.Description,
		"location":          session.Location,
		"latitude":          session.Latitude,
		"longitude":         session.Longitude,
		"date":              session.Date,
		"start_time":        session.StartTime,
		"end_time":          session.EndTime,
		"requires_approval": session.RequiresApproval,
		"cost_per_session":  session.CostPerSession,
	}
	if err := sh.DB.Model(&models.Session{}).Where("id = ?", session.ID).Updates(updates).Error; err != nil {
		c.Logger().Errorf("Failed to update session: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update session")
	}

	publishEvent(c, &sh.ServerState, session.GetRedisChannel(), map[string]interface{}{
		"type":       "session_updated",
		"session_id": session.ID,
	})

	return c.JSON(http.StatusOK, session)
}

func (sh *SessionHandler) DeleteSession(c echo.Context) error {
	user, isAuthenticated := sh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	session, err := models.GetSessionByID(sh.DB, c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load session")
	}

	if session.HostID != user.ID {
		return echo.NewHTTPError(http.StatusForbidden, "Only the host can cancel a session")
	}

	if err := sh.DB.Delete(session).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to cancel session")
	}

	publishEvent(c, &sh.ServerState, session.GetRedisChannel(), map[string]interface{}{
		"type":       "session_cancelled",
		"session_id": session.ID,
	})
	_ = notifications.SendSlackNotification(fmt.Sprintf("Session cancelled: '%s' by host %s", session.Game, user.ID), sh.Config)

	return c.NoContent(http.StatusNoContent)
}

// JoinSession requests a seat at the table. Depending on the session's
// approval setting the caller lands in pending or straight in confirmed.
func (sh *SessionHandler) JoinSession(c echo.Context) error {
	user, isAuthenticated := sh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	req := new(seatRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	session, err := sh.Roster.Join(c.Request().Context(), c.Param("id"), user.ID, req.CharacterID, req.CharacterName)
	if err != nil {
		return appError(err)
	}

	if session.Roster.PendingIndex(user.ID) >= 0 {
		// Seat needs host approval; let the host know
		host, err := models.GetUserByID(sh.DB, session.HostID)
		if err == nil {
			if sh.EmailClient != nil {
				sh.EmailClient.SendJoinRequestEmail(host, user.GetDisplayName(), session)
			}
			publishEvent(c, &sh.ServerState, host.GetRedisChannel(), map[string]interface{}{
				"type":       "join_requested",
				"session_id": session.ID,
				"user_id":    user.ID,
			})
		}
	} else {
		publishEvent(c, &sh.ServerState, session.GetRedisChannel(), map[string]interface{}{
			"type":       "player_joined",
			"session_id": session.ID,
			"user_id":    user.ID,
		})
	}

	return c.JSON(http.StatusOK, session)
}

func (sh *SessionHandler) LeaveSession(c echo.Context) error {
	user, isAuthenticated := sh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	session, err := sh.Roster.Leave(c.Request().Context(), c.Param("id"), user.ID)
	if err != nil {
		return appError(err)
	}

	publishEvent(c, &sh.ServerState, session.GetRedisChannel(), map[string]interface{}{
		"type":       "player_left",
		"session_id": session.ID,
		"user_id":    user.ID,
	})

	return c.JSON(http.StatusOK, session)
}

// ApproveSeat moves a pending player onto the confirmed roster. Host only.
func (sh *SessionHandler) ApproveSeat(c echo.Context) error {
	user, isAuthenticated := sh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	type approveRequest struct {
		UserID string `json:"user_id" validate:"required"`
	}
	req := new(approveRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	session, err := sh.Roster.Approve(c.Request().Context(), c.Param("id"), user.ID, req.UserID)
	if err != nil {
		return appError(err)
	}

	player, err := models.GetUserByID(sh.DB, req.UserID)
	if err == nil {
		if sh.EmailClient != nil {
			sh.EmailClient.SendSeatApprovedEmail(player, user.GetDisplayName(), session)
		}
		publishEvent(c, &sh.ServerState, player.GetRedisChannel(), map[string]interface{}{
			"type":       "seat_approved",
			"session_id": session.ID,
		})
	}

	return c.JSON(http.StatusOK, session)
}

// DenySeat moves a pending player to the denied list. Denial is durable: the
// player cannot request a seat at this session again.
func (sh *SessionHandler) DenySeat(c echo.Context) error {
	user, isAuthenticated := sh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	type denyRequest struct {
		UserID string `json:"user_id" validate:"required"`
	}
	req := new(denyRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	session, err := sh.Roster.Deny(c.Request().Context(), c.Param("id"), user.ID, req.UserID)
	if err != nil {
		return appError(err)
	}

	if player, err := models.GetUserByID(sh.DB, req.UserID); err == nil {
		publishEvent(c, &sh.ServerState, player.GetRedisChannel(), map[string]interface{}{
			"type":       "seat_denied",
			"session_id": session.ID,
		})
	}

	return c.JSON(http.StatusOK, session)
}

func (sh *SessionHandler) UpdateCharacter(c echo.Context) error {
	user, isAuthenticated := sh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	req := new(seatRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	session, err := sh.Roster.UpdateCharacter(c.Request().Context(), c.Param("id"), user.ID, req.CharacterID, req.CharacterName)
	if err != nil {
		return appError(err)
	}

	return c.JSON(http.StatusOK, session)
}

// SessionCalendar exports a session as an iCalendar file so players can drop
// it into their calendar app. Public: the link is shared by the host.
func (sh *SessionHandler) SessionCalendar(c echo.Context) error {
	session, err := models.GetSessionByID(sh.DB, c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load session")
	}

	doc := ical.Render(ical.Event{
		ID:          session.ID,
		Game:        session.Game,
		Date:        session.Date,
		StartTime:   session.StartTime,
		EndTime:     session.EndTime,
		Description: session.Description,
		Location:    session.Location,
	})

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s.ics", session.ID))
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(doc))
}

// GetTableToken issues a LiveKit join token for the session's virtual table.
// Only the host and confirmed players get one.
func (sh *SessionHandler) GetTableToken(c echo.Context) error {
	user, isAuthenticated := sh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	session, err := models.GetSessionByID(sh.DB, c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load session")
	}

	if session.HostID != user.ID && session.Roster.ConfirmedIndex(user.ID) < 0 {
		return echo.NewHTTPError(http.StatusForbidden, "Only the host and confirmed players can join the table")
	}

	token, err := generateTableToken(&sh.ServerState, session, user)
	if err != nil {
		c.Logger().Error("Failed to generate table token:", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"token": token,
		"url":   sh.Config.Livekit.ServerURL,
	})
}
