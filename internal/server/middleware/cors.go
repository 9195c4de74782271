package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nguyentranbao-ct/omni-inbox/pkg/reqid"
)

var (
	corsAllowHeaders = strings.Join([]string{
		echo.HeaderAuthorization,
		echo.HeaderContentType,
		echo.HeaderXRequestID,
		reqid.XCorrelationID,
	}, ", ")
	corsAllowMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}, ", ")
)

// CORS allows browser agents whose Origin matches pattern. Preflights are
// answered here and never reach the routes.
func CORS(pattern *regexp.Regexp) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Response().Header()
			header.Add(echo.HeaderVary, echo.HeaderOrigin)

			origin := c.Request().Header.Get(echo.HeaderOrigin)
			if origin == "" || !pattern.MatchString(origin) {
				return next(c)
			}

			header.Set(echo.HeaderAccessControlAllowOrigin, origin)
			header.Set(echo.HeaderAccessControlAllowCredentials, "true")
			header.Set(echo.HeaderAccessControlExposeHeaders, echo.HeaderXRequestID)
			if c.Request().Method != http.MethodOptions {
				return next(c)
			}

			header.Set(echo.HeaderAccessControlAllowHeaders, corsAllowHeaders)
			header.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
			header.Set(echo.HeaderAccessControlMaxAge, "600")
			return c.NoContent(http.StatusNoContent)
		}
	}
}
