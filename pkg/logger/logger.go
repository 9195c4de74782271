package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	root     *zap.Logger
	rootOnce sync.Once
	level    = zap.NewAtomicLevel()
)

// Root returns the process wide logger. The level is read once from LOG_LEVEL
// and the encoding from LOG_FORMAT ("console" or "json", default json).
func Root() *zap.Logger {
	rootOnce.Do(func() {
		if err := level.UnmarshalText([]byte(envOr("LOG_LEVEL", "info"))); err != nil {
			level.SetLevel(zapcore.InfoLevel)
		}

		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		var enc zapcore.Encoder
		if strings.EqualFold(envOr("LOG_FORMAT", "json"), "console") {
			enc = zapcore.NewConsoleEncoder(encCfg)
		} else {
			enc = zapcore.NewJSONEncoder(encCfg)
		}

		core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)
		root = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	})
	return root
}

// MustNamed returns a sugared logger scoped to name.
func MustNamed(name string) *zap.SugaredLogger {
	return Root().Named(name).Sugar()
}

// SetLevel changes the level of every logger derived from Root.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// Sync flushes buffered entries, errors from syncing stdout are ignored.
func Sync() {
	_ = Root().Sync()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
