package handlers

import (
	"net/http"
	"strconv"

	"questtable-backend/internal/common"
	"questtable-backend/internal/models"

	"github.com/labstack/echo/v4"
)

// FeedbackHandler serves post-session feedback submission, moderation flags
// and reputation reads. All state transitions live in the feedback engine.
type FeedbackHandler struct {
	common.ServerState
}

func NewFeedbackHandler(state common.ServerState) *FeedbackHandler {
	return &FeedbackHandler{ServerState: state}
}

type FeedbackRequest struct {
	TargetID    string `json:"target_id" validate:"required"`
	SessionID   string `json:"session_id" validate:"required"`
	SessionType string `json:"session_type" validate:"required"`
	Verdict     string `json:"verdict" validate:"required"`
	Comment     string `json:"comment"`
}

// SubmitFeedback records a yes/no/skip verdict about another participant of
// a completed session.
func (fh *FeedbackHandler) SubmitFeedback(c echo.Context) error {
	user, isAuthenticated := fh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	req := new(FeedbackRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	verdict, err := models.ParseVerdict(req.Verdict)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sessionType, err := models.ParseSessionType(req.SessionType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	record, err := fh.Feedback.Submit(c.Request().Context(), user.ID, req.TargetID, req.SessionID, sessionType, verdict, req.Comment)
	if err != nil {
		return appError(err)
	}

	return c.JSON(http.StatusCreated, record)
}

// FlagFeedback attaches a moderation flag to a feedback record. A record can
// only be flagged once; the flag hides nothing and changes no score.
func (fh *FeedbackHandler) FlagFeedback(c echo.Context) error {
	user, isAuthenticated := fh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	feedbackID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid feedback id")
	}

	type flagRequest struct {
		Reason string `json:"reason" validate:"required"`
	}
	req := new(flagRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	record, err := fh.Feedback.Flag(c.Request().Context(), uint(feedbackID), user.ID, req.Reason)
	if err != nil {
		return appError(err)
	}

	return c.JSON(http.StatusOK, record)
}

// GetReputation returns the aggregate reputation of a user. Per-record
// comments are included only for the user themselves or an admin.
func (fh *FeedbackHandler) GetReputation(c echo.Context) error {
	user, isAuthenticated := fh.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	targetID := c.Param("id")
	if targetID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "User id is required")
	}

	reputation, err := fh.Feedback.StatsWithComments(c.Request().Context(), targetID, user.ID, user.IsAdmin)
	if err != nil {
		return appError(err)
	}

	return c.JSON(http.StatusOK, reputation)
}
