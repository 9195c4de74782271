package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// StatusClientClosedRequest is used when the agent went away before the reply.
const StatusClientClosedRequest = 499

// ErrorHandler writes errors in the Response envelope. A *ResponseError is
// sent as is; echo errors get a code derived from their status.
func ErrorHandler(log Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if err == nil || c.Response().Committed {
			return
		}

		var resp *ResponseError
		var he *echo.HTTPError
		switch {
		case errors.As(err, &resp):
		case errors.As(err, &he):
			resp = &ResponseError{
				Status:       he.Code,
				Err:          err,
				ErrorCode:    statusCode(he.Code),
				ErrorMessage: fmt.Sprint(he.Message),
			}
		case errors.Is(err, context.Canceled) && errors.Is(c.Request().Context().Err(), context.Canceled):
			resp = &ResponseError{Status: StatusClientClosedRequest, Err: err, ErrorCode: "canceled"}
		default:
			resp = &ResponseError{
				Status:       http.StatusInternalServerError,
				Err:          err,
				ErrorCode:    "internal",
				ErrorMessage: http.StatusText(http.StatusInternalServerError),
			}
		}

		if resp.Status == http.StatusNotFound && isNotFoundHandler(c.Handler()) {
			resp.ErrorMessage = "no route matched"
		}
		if resp.Status >= http.StatusInternalServerError {
			log.Errorw("request error", "status", resp.Status, "error", err, "request_id", GetRequestIDFromEchoContext(c))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(resp.Status)
		} else {
			err = c.JSON(resp.Status, resp)
		}
		if err != nil {
			log.Errorw("could not write error response", "status", resp.Status, "error", err)
		}
	}
}

// statusCode turns 404 into "not_found", 401 into "unauthorized" and so on.
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
