package echoapi

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/session"
	"github.com/trezcool/atelier/core/user"
	"github.com/trezcool/atelier/services/realtime"
)

const sessionRoomPrefix = "session:"

func registerRealtimeAPI(g *echo.Group, auth *Auth, users user.ServiceInterface, sessions *session.Service, hub *realtime.Hub) {
	if hub == nil {
		return
	}
	hub.SetAuthorizer(roomAuthorizer(users, sessions))

	jwt := middleware.JWTWithConfig(auth.wsConfig)
	g.GET("/ws", func(ctx echo.Context) error {
		usr, err := getContextUser(ctx, users)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}
		if usr.IsDisabled {
			return core.NewUserDisabled()
		}
		if err = hub.Serve(ctx.Response(), ctx.Request(), usr.ID); err != nil {
			// the upgrader already replied
			ctx.Logger().Debugf("websocket upgrade: %v", err)
		}
		return nil
	}, jwt)
}

// roomAuthorizer only lets the creator, the subscribers and the admins listen to a session.
func roomAuthorizer(users user.ServiceInterface, sessions *session.Service) realtime.RoomAuthorizer {
	return func(userID, room string) error {
		if !strings.HasPrefix(room, sessionRoomPrefix) {
			return core.NewAccessDenied("unknown room")
		}
		ctx := context.Background()
		usr, err := users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		return sessions.CanListen(ctx, usr, strings.TrimPrefix(room, sessionRoomPrefix))
	}
}
