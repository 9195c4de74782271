package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Skipper reports whether a middleware lets the request through untouched.
type Skipper func(c echo.Context) bool

func DefaultSkipper(echo.Context) bool { return false }

// Logger is the part of a sugared zap logger the middlewares write to.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

// Response is the JSON envelope of every API reply. A non-zero Status
// overrides the default 200.
type Response struct {
	Status       int    `json:"-"`
	Success      bool   `json:"success"`
	Data         any    `json:"data,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorData    any    `json:"error_data,omitempty"`
}

func OK(data any) *Response {
	return &Response{Status: http.StatusOK, Success: true, Data: data}
}

type ResponseError struct {
	Status       int    `json:"-"`
	Err          error  `json:"-"`
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorData    any    `json:"error_data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("status: %d, code: %s; message: %+v", e.Status, e.ErrorCode, e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// WithData turns the error into a reply that still carries data, for
// requests that partly succeeded.
func (e *ResponseError) WithData(data any) *Response {
	return &Response{
		Status:       e.Status,
		Data:         data,
		ErrorCode:    e.ErrorCode,
		ErrorMessage: e.ErrorMessage,
		ErrorData:    e.ErrorData,
	}
}
