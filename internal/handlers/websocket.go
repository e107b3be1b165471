package handlers

import (
	"context"
	"net/http"

	"questtable-backend/internal/common"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	// JWT auth happens before the upgrade; the origin check adds nothing here
	CheckOrigin: func(r *http.Request) bool { return true },
}

// CreateWSHandler returns the websocket endpoint that streams a user's
// realtime events (join requests, approvals, denials) from their redis
// channel. The connection lives until the client closes it.
func CreateWSHandler(s *common.ServerState) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, isAuthenticated := getAuthenticatedUserFromJWTCommon(c, s.JwtIssuer, s.DB)
		if !isAuthenticated {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized request")
		}

		if s.Redis == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "Realtime updates are not available")
		}

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		defer ws.Close()

		ctx, cancel := context.WithCancel(c.Request().Context())
		defer cancel()

		sub := s.Redis.Subscribe(ctx, user.GetRedisChannel())
		defer sub.Close()

		// Reader goroutine only detects the client going away
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-sub.Channel():
				if !ok {
					return nil
				}
				if err := ws.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
					c.Logger().Warnf("Failed to write websocket message for user %s: %v", user.ID, err)
					return nil
				}
			}
		}
	}
}
