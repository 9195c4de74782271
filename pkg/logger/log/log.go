// Package log logs with values carried by a context, mostly the request id
// injected by the HTTP middleware.
package log

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nguyentranbao-ct/omni-inbox/pkg/logger"
)

type ctxKey struct{}

var fieldsKey = ctxKey{}

// WithValues returns a context whose log lines carry the given key/value pairs.
func WithValues(ctx context.Context, keysAndValues ...any) context.Context {
	prev, _ := ctx.Value(fieldsKey).([]any)
	fields := make([]any, 0, len(prev)+len(keysAndValues))
	fields = append(fields, prev...)
	fields = append(fields, keysAndValues...)
	return context.WithValue(ctx, fieldsKey, fields)
}

func from(ctx context.Context) *zap.SugaredLogger {
	l := logger.Root().Sugar()
	if ctx == nil {
		return l
	}
	if fields, ok := ctx.Value(fieldsKey).([]any); ok && len(fields) > 0 {
		return l.With(fields...)
	}
	return l
}

func Debugw(ctx context.Context, msg string, keysAndValues ...any) {
	from(ctx).Debugw(msg, keysAndValues...)
}

func Infow(ctx context.Context, msg string, keysAndValues ...any) {
	from(ctx).Infow(msg, keysAndValues...)
}

func Warnw(ctx context.Context, msg string, keysAndValues ...any) {
	from(ctx).Warnw(msg, keysAndValues...)
}

func Errorw(ctx context.Context, msg string, keysAndValues ...any) {
	from(ctx).Errorw(msg, keysAndValues...)
}

func Infof(ctx context.Context, template string, args ...any) {
	from(ctx).Infof(template, args...)
}

func Warnf(ctx context.Context, template string, args ...any) {
	from(ctx).Warnf(template, args...)
}

func Errorf(ctx context.Context, template string, args ...any) {
	from(ctx).Errorf(template, args...)
}

// Logw logs at an explicit level, used when the level depends on an outcome.
func Logw(ctx context.Context, lvl zapcore.Level, msg string, keysAndValues ...any) {
	from(ctx).Logw(lvl, msg, keysAndValues...)
}
