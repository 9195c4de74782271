package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	pkgmdw "github.com/nguyentranbao-ct/omni-inbox/internal/server/middleware"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/logger"
)

func errorHandler() echo.HTTPErrorHandler {
	next := pkgmdw.ErrorHandler(logger.MustNamed("http"))
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			next(he, c)
			return
		}
		var re *pkgmdw.ResponseError
		if errors.As(err, &re) {
			next(re, c)
			return
		}
		next(toResponseError(err), c)
	}
}

// toResponseError maps the pipeline error taxonomy onto HTTP statuses. The
// message is the sentence the agent sees.
func toResponseError(err error) *pkgmdw.ResponseError {
	resp := &pkgmdw.ResponseError{
		Status:       http.StatusInternalServerError,
		Err:          err,
		ErrorCode:    "internal",
		ErrorMessage: models.UserMessage(err),
	}

	var (
		send        *models.SendError
		precond     *models.PreconditionError
		transferErr *models.TransferError
		permErr     *models.PermissionError
	)
	switch {
	case errors.As(err, &send) && send.Partial:
		resp.Status = http.StatusMultiStatus
		resp.ErrorCode = "partial_send"
		resp.ErrorData = map[string]any{"failed_step": send.Step}
	case errors.As(err, &precond):
		resp.Status = http.StatusUnprocessableEntity
		resp.ErrorCode = "precondition_failed"
	case errors.As(err, &permErr):
		resp.Status = http.StatusUnprocessableEntity
		resp.ErrorCode = string(permErr.Reason)
	case errors.As(err, &transferErr):
		resp.ErrorCode = string(transferErr.Kind)
		switch transferErr.Kind {
		case models.TransferTimeout:
			resp.Status = http.StatusGatewayTimeout
		case models.TransferNetworkFailure:
			resp.Status = http.StatusServiceUnavailable
		case models.TransferUnacceptable:
			resp.Status = http.StatusUnprocessableEntity
		default:
			resp.Status = http.StatusBadGateway
		}
		if transferErr.Detail != "" {
			resp.ErrorData = map[string]any{"detail": transferErr.Detail}
		}
	case errors.Is(err, models.ErrNotFound):
		resp.Status = http.StatusNotFound
		resp.ErrorCode = "not_found"
	case errors.Is(err, models.ErrInvalidState):
		resp.Status = http.StatusConflict
		resp.ErrorCode = "invalid_state"
	}
	return resp
}
