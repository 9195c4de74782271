package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	pkgmdw "github.com/nguyentranbao-ct/omni-inbox/internal/server/middleware"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/logger"
	log "github.com/nguyentranbao-ct/omni-inbox/pkg/logger/log"
)

// NewEcho builds the router with the middleware chain and every route.
func NewEcho(conf *config.Config, handler Controller, stream *StreamHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = pkgmdw.NewValidator()
	e.HTTPErrorHandler = errorHandler()

	logConfig := pkgmdw.LogRequestConfig{
		Logger: logger.MustNamed("http"),
		Enabled: func(c echo.Context) bool {
			uri := c.Request().RequestURI
			return uri != "/health" && uri != "/metrics"
		},
	}

	if conf.Server.AllowOrigins != "" {
		e.Use(pkgmdw.CORS(regexp.MustCompile(conf.Server.AllowOrigins)))
	}
	e.Use(pkgmdw.Metrics())
	e.Use(pkgmdw.RequestID())
	e.Use(pkgmdw.LogRequest(logConfig))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Errorw(c.Request().Context(), "PANIC RECOVER", "error", err, "stack", string(stack))
			return nil
		},
	}))
	if conf.Server.Pprof {
		pkgmdw.Pprof(e.Group("/debug/pprof", pkgmdw.JWTAuth(conf.Auth.JWTSecret)))
	}

	e.GET("/health", handler.Health)

	api := e.Group("/api/v1", pkgmdw.JWTAuth(conf.Auth.JWTSecret))
	api.GET("/conversations/:id", pkgmdw.WrapHandler(handler.GetConversation))
	api.GET("/conversations/:id/stream", stream.Handle)
	api.POST("/conversations/:id/open", pkgmdw.WrapHandler(handler.OpenConversation))
	api.POST("/conversations/:id/read", pkgmdw.WrapHandler(handler.MarkAsRead))
	api.POST("/conversations/:id/typing", pkgmdw.WrapHandler(handler.Typing))
	api.POST("/conversations/:id/messages", pkgmdw.WrapHandler(handler.SendMessage))
	api.POST("/conversations/:id/links", pkgmdw.WrapHandler(handler.SendLink))
	api.POST("/conversations/:id/attachments", handler.SendAttachment)
	api.POST("/conversations/:id/audio", handler.SendAudio)
	api.POST("/conversations/:id/quick-replies", pkgmdw.WrapHandler(handler.SendQuickReply))
	api.PATCH("/conversations/:id/messages/:msgID/hide", pkgmdw.WrapHandler(handler.HideMessage))
	api.DELETE("/conversations/:id/messages/:msgID", pkgmdw.WrapHandler(handler.DeleteMessage))
	api.POST("/conversations/:id/messages/:msgID/reactions", pkgmdw.WrapHandler(handler.SendReaction))
	api.DELETE("/conversations/:id/messages/:msgID/reactions", pkgmdw.WrapHandler(handler.RemoveReaction))
	api.GET("/quick-replies", pkgmdw.WrapHandler(handler.SearchQuickReplies))
	api.GET("/messages/:id/audio", pkgmdw.WrapHandler(handler.FetchAudio))

	return e
}

func StartServer(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	conf *config.Config,
	handler Controller,
	stream *StreamHandler,
) {
	e := NewEcho(conf, handler, stream)
	addr := conf.Server.Addr()

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Infow(ctx, "starting HTTP server", "addr", addr)
				if err := e.Start(addr); !errors.Is(err, http.ErrServerClosed) {
					log.Errorw(ctx, "HTTP server stopped", "error", err)
					_ = sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}
