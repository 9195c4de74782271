package middleware

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsConfig struct {
	Skipper     Skipper
	Namespace   string
	Subsystem   string
	Buckets     []float64
	MetricsPath string
	// GroupStatus reports 2xx/4xx/... instead of the exact code.
	GroupStatus bool
}

// notFoundPath replaces the path of unmatched requests to bound label cardinality.
const notFoundPath = "/not-found"

var DefaultMetricsConfig = MetricsConfig{
	Skipper:     IsWebSocketUpgrade,
	Namespace:   "omni_inbox",
	Subsystem:   "http",
	Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60, 300},
	MetricsPath: "/metrics",
}

// IsWebSocketUpgrade skips the view streams, whose duration is the session length.
func IsWebSocketUpgrade(c echo.Context) bool {
	return strings.EqualFold(c.Request().Header.Get(echo.HeaderUpgrade), "websocket")
}

func isNotFoundHandler(handler echo.HandlerFunc) bool {
	return reflect.ValueOf(handler).Pointer() == reflect.ValueOf(echo.NotFoundHandler).Pointer()
}

func statusLabel(status int, grouped bool) string {
	if grouped {
		return strconv.Itoa(status/100) + "xx"
	}
	return strconv.Itoa(status)
}

func Metrics() echo.MiddlewareFunc {
	return MetricsWithConfig(DefaultMetricsConfig)
}

// MetricsWithConfig records a latency histogram per code, method and route and
// an in-flight gauge, and serves the registry on MetricsPath.
func MetricsWithConfig(config MetricsConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = DefaultSkipper
	}
	duration, inflight := mustRegisterHTTPMetrics(config)

	var promHandler echo.HandlerFunc
	if config.MetricsPath != "" {
		promHandler = echo.WrapHandler(promhttp.Handler())
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if promHandler != nil && req.URL.Path == config.MetricsPath {
				return promHandler(c)
			}
			if config.Skipper(c) {
				return next(c)
			}

			path := c.Path()
			if isNotFoundHandler(c.Handler()) {
				path = notFoundPath
			}

			gauge := inflight.WithLabelValues(req.Method)
			gauge.Inc()
			defer gauge.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				// let the error handler write the status before it is read
				c.Error(err)
			}

			duration.
				WithLabelValues(statusLabel(c.Response().Status, config.GroupStatus), req.Method, path).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func mustRegisterHTTPMetrics(config MetricsConfig) (*prometheus.HistogramVec, *prometheus.GaugeVec) {
	duration, err := registerOrExisting(prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "request_duration_seconds",
		Help:      "Time spent serving a route",
		Buckets:   config.Buckets,
	}, []string{"code", "method", "path"}))
	if err != nil {
		panic(err)
	}
	inflight, err := registerOrExisting(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "requests_in_flight",
		Help:      "Requests being served",
	}, []string{"method"}))
	if err != nil {
		panic(err)
	}
	return duration, inflight
}

func registerOrExisting[C prometheus.Collector](c C) (C, error) {
	err := prometheus.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return c, err
		}
		return existing, nil
	}
	return c, err
}
