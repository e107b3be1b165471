package common

import (
	"net/http"

	"questtable-backend/internal/config"
	"questtable-backend/internal/email"
	"questtable-backend/internal/feedback"
	"questtable-backend/internal/geocode"
	"questtable-backend/internal/roster"
	"questtable-backend/internal/schedule"

	"github.com/labstack/echo/v4"
	"github.com/markbates/goth"
	"github.com/redis/go-redis/v9"
	"github.com/wader/gormstore/v2"
	"gorm.io/gorm"
)

type JWTIssuer interface {
	GenerateToken(email string) (string, error)
	Middleware() echo.MiddlewareFunc
	GetUserEmail(c echo.Context) (string, error)
}

type SocialAuthProvider interface {
	CompleteUserAuth(res http.ResponseWriter, req *http.Request) (goth.User, error)
}

type ServerState struct {
	Echo        *echo.Echo
	Config      *config.Config
	DB          *gorm.DB
	Store       *gormstore.Store
	JwtIssuer   JWTIssuer
	Redis       *redis.Client
	EmailClient email.EmailClient

	Roster   *roster.Engine
	Feedback *feedback.Engine
	Schedule *schedule.Service
	Geocoder *geocode.Client
}

// GetUserChannel returns the redis pub/sub channel pattern for a user id
func GetUserChannel(userID string) string {
	return "channel-user-" + userID
}
