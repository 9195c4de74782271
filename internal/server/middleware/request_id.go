package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	log "github.com/nguyentranbao-ct/omni-inbox/pkg/logger/log"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/reqid"
)

const (
	XRequestID     = reqid.XRequestID
	XCorrelationID = reqid.XCorrelationID
)

func GetRequestID(c echo.Context) string {
	if id := GetRequestIDFromEchoContext(c); id != "" {
		return id
	}
	if id := reqid.FromContext(c.Request().Context()); id != "" {
		return id
	}
	return GetRequestIDFromHeader(c.Request().Header)
}

func GetRequestIDFromEchoContext(c echo.Context) string {
	if id, ok := c.Get(XRequestID).(string); ok {
		return id
	}
	return ""
}

func GetRequestIDFromHeader(h http.Header) string {
	if id := h.Get(XRequestID); id != "" {
		return id
	}
	return h.Get(XCorrelationID)
}

// InjectRequestID stores the id on both the echo context and the request
// context so outbound CRM and gateway calls forward it.
func InjectRequestID(c echo.Context, id string) {
	ctx := reqid.WithID(c.Request().Context(), id)
	ctx = log.WithValues(ctx, "request_id", id)
	c.SetRequest(c.Request().WithContext(ctx))
	c.Set(XRequestID, id)
}

type RequestIDConfig struct {
	Skipper      Skipper
	GenerateFunc func() string
	DetectFunc   func(echo.Context) string
	InjectFunc   func(echo.Context, string)
}

var DefaultRequestIDConfig = RequestIDConfig{
	Skipper:      DefaultSkipper,
	GenerateFunc: reqid.New,
	DetectFunc:   GetRequestID,
	InjectFunc:   InjectRequestID,
}

func RequestID() echo.MiddlewareFunc {
	return RequestIDWithConfig(DefaultRequestIDConfig)
}

func RequestIDWithConfig(config RequestIDConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = DefaultRequestIDConfig.Skipper
	}
	if config.GenerateFunc == nil {
		config.GenerateFunc = DefaultRequestIDConfig.GenerateFunc
	}
	if config.DetectFunc == nil {
		config.DetectFunc = DefaultRequestIDConfig.DetectFunc
	}
	if config.InjectFunc == nil {
		config.InjectFunc = DefaultRequestIDConfig.InjectFunc
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper(c) {
				return next(c)
			}
			id := config.DetectFunc(c)
			if id == "" {
				id = config.GenerateFunc()
			}
			config.InjectFunc(c, id)
			c.Response().Header().Set(XRequestID, id)
			return next(c)
		}
	}
}
