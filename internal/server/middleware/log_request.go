package middleware

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
)

// DefaultMaxLoggedBody keeps inline media (data URIs in sends and rendered
// views) out of the request log.
const DefaultMaxLoggedBody = 4 << 10

type LogRequestConfig struct {
	Logger       Logger
	Enabled      Skipper
	RequestID    func(c echo.Context) string
	RequestBody  Skipper
	ResponseBody Skipper
	QueryParams  Skipper
	ParamValues  Skipper
	KeyAndValues func(c echo.Context) []any
	// MaxBody is the largest JSON body logged verbatim; larger ones are
	// logged by size only.
	MaxBody int
}

type bodyDumpWriter struct {
	io.Writer
	http.ResponseWriter
}

// LogRequest writes one line per request at a level picked from the status.
// JSON bodies are logged, other content types never are.
func LogRequest(config LogRequestConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		panic("Logger is required to use LogRequest")
	}
	always := func(echo.Context) bool { return true }
	if config.Enabled == nil {
		config.Enabled = always
	}
	if config.RequestBody == nil {
		config.RequestBody = always
	}
	if config.ResponseBody == nil {
		config.ResponseBody = func(c echo.Context) bool { return !IsWebSocketUpgrade(c) }
	}
	if config.QueryParams == nil {
		config.QueryParams = always
	}
	if config.ParamValues == nil {
		config.ParamValues = always
	}
	if config.RequestID == nil {
		config.RequestID = GetRequestIDFromEchoContext
	}
	if config.MaxBody <= 0 {
		config.MaxBody = DefaultMaxLoggedBody
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !config.Enabled(c) {
				return next(c)
			}

			start := time.Now()
			req := c.Request()
			res := c.Response()

			logReqBody := config.RequestBody(c) && isJSON(req.Header.Get(echo.HeaderContentType))
			var reqBody []byte
			if logReqBody {
				reqBody, _ = io.ReadAll(req.Body)
				req.Body = io.NopCloser(bytes.NewReader(reqBody))
			}

			logResBody := config.ResponseBody(c)
			var resBuf bytes.Buffer
			if logResBody {
				res.Writer = &bodyDumpWriter{
					Writer:         io.MultiWriter(res.Writer, &resBuf),
					ResponseWriter: res.Writer,
				}
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			args := make([]any, 0, 32)
			args = append(args,
				"status", res.Status,
				"method", req.Method,
				"route", c.Path(),
				"uri", req.RequestURI,
				"latency_ms", time.Since(start).Milliseconds(),
				"real_ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"request_id", config.RequestID(c),
			)
			if agent := GetUserID(c); agent != "" {
				args = append(args, "agent_id", agent)
			}
			if config.QueryParams(c) && len(c.QueryParams()) > 0 {
				args = append(args, "query", c.QueryParams())
			}
			if config.ParamValues(c) && len(c.ParamNames()) > 0 {
				params := make(map[string]string, len(c.ParamNames()))
				for _, name := range c.ParamNames() {
					params[name] = c.Param(name)
				}
				args = append(args, "params", params)
			}
			if config.KeyAndValues != nil {
				args = append(args, config.KeyAndValues(c)...)
			}
			if logReqBody {
				args = appendBody(args, "request_body", reqBody, config.MaxBody)
			}
			if logResBody && isJSON(res.Header().Get(echo.HeaderContentType)) {
				args = appendBody(args, "response_body", resBuf.Bytes(), config.MaxBody)
			}

			switch {
			case res.Status >= 500:
				if err != nil {
					args = append(args, "error", err.Error())
				}
				config.Logger.Errorw("request failed", args...)
			case res.Status >= 400:
				config.Logger.Warnw("request rejected", args...)
			default:
				config.Logger.Infow("request served", args...)
			}
			return err
		}
	}
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(contentType, echo.MIMEApplicationJSON)
}

func appendBody(args []any, key string, body []byte, limit int) []any {
	switch {
	case len(body) == 0:
		return args
	case len(body) > limit || !json.Valid(body):
		return append(args, key+"_size", humanize.Bytes(uint64(len(body))))
	}
	return append(args, key, json.RawMessage(body))
}

func (w *bodyDumpWriter) WriteHeader(code int) {
	w.ResponseWriter.WriteHeader(code)
}

func (w *bodyDumpWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func (w *bodyDumpWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *bodyDumpWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
