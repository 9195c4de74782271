package util

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
)

func ConvertList[A any, B any](listA []A, convert func(A) B) []B {
	listB := make([]B, len(listA))
	for i, a := range listA {
		listB[i] = convert(a)
	}

	return listB
}

type nopLogger struct{}

func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

type RestyOptions struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RetryCount int
}

// NewRestyClient builds the REST client shared by every outbound collaborator.
// Only idempotent requests are retried, a retried POST could create a second
// message on the channel.
func NewRestyClient(opts RestyOptions) *resty.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := resty.
		New().
		SetBaseURL(opts.BaseURL).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetLogger(nopLogger{}).
		SetTimeout(opts.Timeout).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || !isIdempotent(r.Request.Method) {
				return false
			}
			retry, _ := retryablehttp.DefaultRetryPolicy(r.Request.Context(), r.RawResponse, err)
			return retry
		})
	if opts.Token != "" {
		c.SetAuthToken(opts.Token)
	}
	c.JSONMarshal = json.Marshal
	c.JSONUnmarshal = json.Unmarshal
	return c
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Ptr returns pointer of any value.
func Ptr[T any](t T) *T {
	return &t
}

// Val returns value if pointer is not null, otherwise it returns zero.
func Val[T any](t *T) T {
	if t != nil {
		return *t
	}

	var def T
	return def
}

var defaultBuckets = []float64{
	0.0005,
	0.001, // 1ms
	0.002,
	0.005,
	0.01, // 10ms
	0.02,
	0.05,
	0.1, // 100 ms
	0.2,
	0.5,
	1.0, // 1s
	2.0,
	5.0,
	10.0, // 10s
	30.0,
	60.0,
	180.0, // video uploads
}

func GetHistogramVec(name string, labels ...string) (*prometheus.HistogramVec, error) {
	metrics := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Buckets: defaultBuckets,
	}, labels)
	return register(metrics)
}

func GetCounterVec(name string, labels ...string) (*prometheus.CounterVec, error) {
	metrics := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
	}, labels)
	return register(metrics)
}

func GetGaugeVec(name string, labels ...string) (*prometheus.GaugeVec, error) {
	metrics := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name,
	}, labels)
	return register(metrics)
}

// MustHistogramVec, MustCounterVec and MustGaugeVec panic on registration
// conflicts of a different collector type, which is a programming error.
func MustHistogramVec(name string, labels ...string) *prometheus.HistogramVec {
	m, err := GetHistogramVec(name, labels...)
	if err != nil {
		panic(err)
	}
	return m
}

func MustCounterVec(name string, labels ...string) *prometheus.CounterVec {
	m, err := GetCounterVec(name, labels...)
	if err != nil {
		panic(err)
	}
	return m
}

func MustGaugeVec(name string, labels ...string) *prometheus.GaugeVec {
	m, err := GetGaugeVec(name, labels...)
	if err != nil {
		panic(err)
	}
	return m
}

func register[C prometheus.Collector](metrics C) (C, error) {
	if err := prometheus.Register(metrics); err != nil {
		var registeredErr prometheus.AlreadyRegisteredError
		if ok := errors.As(err, &registeredErr); ok {
			existing, ok := registeredErr.ExistingCollector.(C)
			if ok {
				return existing, nil
			}
		}
		return metrics, fmt.Errorf("register: %w %T", err, err)
	}

	return metrics, nil
}
