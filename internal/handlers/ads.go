package handlers

import (
	"net/http"
	"strings"

	"questtable-backend/internal/common"
	"questtable-backend/internal/models"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// AdsHandler records clicks on sponsored placements (game store banners,
// publisher promos). The endpoint is public; logged-in clicks are attributed.
type AdsHandler struct {
	DB        *gorm.DB
	JwtIssuer common.JWTIssuer
}

func NewAdsHandler(db *gorm.DB, jwtIssuer common.JWTIssuer) *AdsHandler {
	return &AdsHandler{DB: db, JwtIssuer: jwtIssuer}
}

func (ah *AdsHandler) TrackAdClick(c echo.Context) error {
	slug := c.Param("slug")
	if slug == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Slug is required")
	}

	// Attribution is opportunistic: anonymous clicks count too. The route
	// has no JWT middleware, so the token is parsed here when present.
	userID := ""
	if header := c.Request().Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if jwtAuth, ok := ah.JwtIssuer.(*JwtAuth); ok {
			if email, err := jwtAuth.ParseEmail(strings.TrimPrefix(header, "Bearer ")); err == nil {
				if user, err := models.GetUserByEmail(ah.DB, email); err == nil {
					userID = user.ID
				}
			}
		}
	}

	click := models.AdClick{
		Slug:     slug,
		UserID:   userID,
		Referrer: c.Request().Referer(),
	}

	if err := ah.DB.Create(&click).Error; err != nil {
		c.Logger().Errorf("Failed to record ad click: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to record click")
	}

	return c.NoContent(http.StatusNoContent)
}
